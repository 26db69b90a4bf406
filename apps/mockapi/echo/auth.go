package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/registry"
)

const (
	jwtContextKey = "operatorToken"

	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var nowFunc = time.Now // mockable

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "operator not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusUnauthorized, "refresh has expired")
	errInvalidRefresh       = echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	TokenType    string `json:"typ"`
	Username     string `json:"username,omitempty"`
}

func newJWTConfig(secret string) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(secret),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    jwtContextKey,
		Claims:        new(Claims),
	}
}

// operatorClaims builds the claims of a token of the given type. origIat is kept across refreshes
// so that a session can't be extended past the refresh delta.
func (s *server) operatorClaims(op registry.Operator, typ string, origIat ...int64) *Claims {
	now := nowFunc()
	oriat := now.Unix()
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	exp := now.Add(s.deps.Conf.Server.JWTExpirationDelta).Unix()
	if typ == tokenRefresh {
		exp = time.Unix(oriat, 0).Add(s.deps.Conf.Server.JWTRefreshExpirationDelta).Unix()
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    s.deps.Conf.AppName,
			Subject:   strconv.Itoa(op.ID),
			ExpiresAt: exp,
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: oriat,
		TokenType:    typ,
		Username:     op.Username,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func (s *server) GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(s.jwtConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(s.jwtConfig.SigningKey)
	if err != nil {
		return "", errors.New("signing token")
	}
	return ss, nil
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (s *server) tokenPair(op registry.Operator, origIat ...int64) (tokenPair, error) {
	access, err := s.GenerateToken(s.operatorClaims(op, tokenAccess, origIat...))
	if err != nil {
		return tokenPair{}, err
	}
	refresh, err := s.GenerateToken(s.operatorClaims(op, tokenRefresh, origIat...))
	if err != nil {
		return tokenPair{}, err
	}
	return tokenPair{Access: access, Refresh: refresh}, nil
}

// parseRefresh validates a refresh token and returns its claims.
func (s *server) parseRefresh(token string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != s.jwtConfig.SigningMethod {
			return nil, errors.Errorf("unexpected jwt signing method=%v", t.Header["alg"])
		}
		return s.jwtConfig.SigningKey, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errRefreshExpired
		}
		return nil, errInvalidRefresh
	}
	if claims.TokenType != tokenRefresh {
		return nil, errInvalidRefresh
	}
	return claims, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(jwtContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// contextOperator identifies the caller for log entries.
func contextOperator(ctx echo.Context) core.Operator {
	var op core.Operator
	if claims, err := getContextClaims(ctx); err == nil {
		op.ID = claims.Subject
		op.Username = claims.Username
	}
	return op
}

// accessTokenMiddleware rejects refresh tokens presented as bearer tokens.
func (s *server) accessTokenMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		if claims.TokenType != tokenAccess {
			return errUnauthorized
		}
		return next(ctx)
	}
}

// Handlers

type (
	LoginRequest struct {
		Username string `json:"username" validate:"notblank"`
		Password string `json:"password" validate:"required"`
	}

	RefreshRequest struct {
		Refresh string `json:"refresh" validate:"required"`
	}

	loginResponse struct {
		tokenPair
		User struct {
			ID       int    `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"user"`
	}
)

func (s *server) registerAuthAPI(g *echo.Group) {
	ag := g.Group("/auth")
	ag.POST("/login", s.login)
	ag.POST("/refresh", s.refreshToken)
}

func (s *server) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	data.Username = core.CleanString(data.Username, true)
	if err := core.ValidateStruct(s.deps.Validate, s.deps.Translator, &data); err != nil {
		return err
	}

	op, err := s.deps.Registry.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		switch errors.Cause(err) {
		case registry.ErrAuthenticationFailed:
			return errAuthenticationFailed
		case registry.ErrAccountDeactivated:
			return errAccountDeactivated
		}
		return errors.Wrap(err, "authenticating")
	}

	tokens, err := s.tokenPair(op)
	if err != nil {
		return errors.Wrap(err, "generating tokens")
	}
	resp := loginResponse{tokenPair: tokens}
	resp.User.ID = op.ID
	resp.User.Username = op.Username
	resp.User.Name = op.Name
	return ctx.JSON(http.StatusOK, resp)
}

// refreshToken rotates both tokens; the refresh token keeps the original issue time.
func (s *server) refreshToken(ctx echo.Context) error {
	var data RefreshRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RefreshRequest")
	}
	if err := core.ValidateStruct(s.deps.Validate, s.deps.Translator, &data); err != nil {
		return err
	}

	claims, err := s.parseRefresh(data.Refresh)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return errInvalidRefresh
	}

	op, err := s.deps.Registry.GetOperator(ctx.Request().Context(), id)
	if err != nil {
		if registry.IsNotFound(err) {
			return errInvalidRefresh
		}
		return errors.Wrap(err, "finding operator by ID")
	}
	// check if operator is still active
	if !op.IsActive {
		return errAccountDeactivated
	}

	tokens, err := s.tokenPair(op, claims.OrigIssuedAt)
	if err != nil {
		return errors.Wrap(err, "generating tokens")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"data": tokens})
}
