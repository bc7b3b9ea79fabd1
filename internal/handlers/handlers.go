package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/valutatrade/valutatrade-hub/internal/config"
	"github.com/valutatrade/valutatrade-hub/internal/currency"
	"github.com/valutatrade/valutatrade-hub/internal/engine"
	"github.com/valutatrade/valutatrade-hub/internal/portfolio"
	"github.com/valutatrade/valutatrade-hub/internal/rates"
	"github.com/valutatrade/valutatrade-hub/internal/storages"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

type Handler struct {
	store  storages.Storage
	engine *engine.Engine
	table  *rates.Table
	cfg    config.Config
}

func NewHandler(store storages.Storage, eng *engine.Engine, table *rates.Table, cfg config.Config) *Handler {
	return &Handler{
		store:  store,
		engine: eng,
		table:  table,
		cfg:    cfg,
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.BindJSON(&req); err != nil {
		logger.WithError(err).Error("failed to bind registration request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	logger.WithField("username", req.Username).Info("registration attempt")

	if req.Username == "" || len(req.Password) < 4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 4 characters"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Error("failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user, err := h.store.CreateUser(req.Username, string(hashedPassword))
	if err != nil {
		if errors.Is(err, storages.ErrUserExists) {
			logger.WithField("username", req.Username).Error("username already exists")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
			return
		}
		logger.WithField("username", req.Username).WithError(err).Error("user registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	logger.WithFields(logrus.Fields{
		"username": user.Username,
		"user_id":  user.ID,
	}).Info("user registered successfully")
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user_id": user.ID})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.BindJSON(&req); err != nil {
		logger.WithError(err).Error("failed to bind login request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	logger.WithField("username", req.Username).Info("login attempt")

	user, err := h.store.GetUser(req.Username)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		logger.WithField("username", req.Username).Error("invalid username or password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := h.generateJWT(user.ID)
	if err != nil {
		logger.WithError(err).Error("failed to generate JWT")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	logger.WithField("username", req.Username).Info("login successful")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) Deposit(c *gin.Context) {
	var req struct {
		Currency string  `json:"currency"`
		Amount   float64 `json:"amount"`
	}

	if err := c.BindJSON(&req); err != nil {
		logger.WithError(err).Error("failed to bind deposit request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID := c.GetInt("user_id")
	logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"currency": req.Currency,
		"amount":   req.Amount,
	}).Info("deposit attempt")

	p, err := h.engine.Deposit(userID, req.Currency, req.Amount)
	if err != nil {
		h.fail(c, err, "deposit failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Account topped up successfully",
		"new_balance": balances(p),
	})
}

func (h *Handler) Buy(c *gin.Context) {
	var req struct {
		Currency string  `json:"currency"`
		Amount   float64 `json:"amount"`
	}

	if err := c.BindJSON(&req); err != nil {
		logger.WithError(err).Error("failed to bind buy request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID := c.GetInt("user_id")
	logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"currency": req.Currency,
		"amount":   req.Amount,
	}).Info("buy attempt")

	result, err := h.engine.Buy(userID, req.Currency, req.Amount)
	if err != nil {
		h.fail(c, err, "buy failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Bought %v %s for %v %s", result.Amount, result.Code, result.Settled, result.Settlement),
		"trade":   result,
	})
}

func (h *Handler) Sell(c *gin.Context) {
	var req struct {
		Currency string  `json:"currency"`
		Amount   float64 `json:"amount"`
	}

	if err := c.BindJSON(&req); err != nil {
		logger.WithError(err).Error("failed to bind sell request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID := c.GetInt("user_id")
	logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"currency": req.Currency,
		"amount":   req.Amount,
	}).Info("sell attempt")

	result, err := h.engine.Sell(userID, req.Currency, req.Amount)
	if err != nil {
		h.fail(c, err, "sell failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Sold %v %s for %v %s", result.Amount, result.Code, result.Settled, result.Settlement),
		"trade":   result,
	})
}

func (h *Handler) GetRate(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")

	quote, err := h.engine.GetRate(from, to)
	if err != nil {
		h.fail(c, err, "rate lookup failed")
		return
	}

	logger.WithFields(logrus.Fields{
		"from": quote.From,
		"to":   quote.To,
		"rate": quote.Rate,
	}).Info("rate retrieved")
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) GetRates(c *gin.Context) {
	ref := h.table.Reference()
	quotes := h.table.DirectFrom(ref)

	logger.WithFields(logrus.Fields{
		"base":  ref,
		"rates": quotes,
	}).Info("exchange rates retrieved")
	c.JSON(http.StatusOK, gin.H{"base": ref, "rates": quotes})
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	userID := c.GetInt("user_id")
	base := c.DefaultQuery("base", h.cfg.ReferenceCurrency)

	logger.WithFields(logrus.Fields{
		"user_id": userID,
		"base":    base,
	}).Info("portfolio report requested")

	report, err := h.engine.ShowPortfolio(userID, base)
	if err != nil {
		h.fail(c, err, "portfolio report failed")
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.GetHeader("Authorization")
		if tokenStr == "" || len(tokenStr) < 7 || tokenStr[:7] != "Bearer " {
			logger.Error("missing or invalid Authorization header")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		tokenStr = tokenStr[7:]
		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(h.cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			logger.WithError(err).Error("invalid JWT token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			logger.Error("failed to parse JWT claims")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		idStr, _ := claims["user_id"].(string)
		userID, err := strconv.Atoi(idStr)
		if err != nil || userID <= 0 {
			logger.Error("invalid user id in JWT claims")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		logger.WithField("user_id", userID).Debug("user authenticated")
		c.Next()
	}
}

// fail maps the engine's expected failure kinds to HTTP statuses. Persistence
// failures stay 500 and say so explicitly: the operation's effect is
// unconfirmed, not necessarily rolled back.
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	logger.WithError(err).Error(msg)

	var (
		unknownCur   *currency.UnknownCurrencyError
		invalidAmt   *portfolio.InvalidAmountError
		insufficient *portfolio.InsufficientFundsError
		duplicate    *portfolio.DuplicateWalletError
		noFunding    *engine.NoFundingSourceError
		noRate       *rates.RateUnavailableError
		persistence  *storages.PersistenceError
	)
	switch {
	case errors.Is(err, engine.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.As(err, &unknownCur),
		errors.As(err, &invalidAmt),
		errors.As(err, &insufficient),
		errors.As(err, &duplicate),
		errors.As(err, &noFunding):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &noRate):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &persistence):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure, operation state unconfirmed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *Handler) generateJWT(userID int) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": fmt.Sprintf("%d", userID),
		"exp":     time.Now().Add(time.Hour * 24).Unix(),
	})
	return token.SignedString([]byte(h.cfg.JWTSecret))
}

func balances(p *portfolio.Portfolio) map[string]float64 {
	out := make(map[string]float64, len(p.Wallets))
	for _, code := range p.Codes() {
		w, _ := p.Wallet(code)
		out[code] = w.Balance
	}
	return out
}
