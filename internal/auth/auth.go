package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/hubchat/hubchat/internal/database"
)

// ErrUnauthenticated is returned by Resolve for any credential that
// cannot be verified, regardless of the underlying cause.
var ErrUnauthenticated = errors.New("unauthenticated")

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

// Identity is the authenticated user attached to a connection. It is
// resolved once from a bearer token and immutable afterwards.
type Identity struct {
	Id          int
	Username    string
	IsSuperuser bool
}

type TokenResolver struct {
	db         database.HubChatRepository
	signingKey []byte
}

func NewTokenResolver(db database.HubChatRepository, signingKey []byte) *TokenResolver {
	return &TokenResolver{
		db:         db,
		signingKey: signingKey,
	}
}

// Resolve verifies a bearer token and loads the account it names.
func (tr *TokenResolver) Resolve(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrUnauthenticated
	}

	userId, err := tr.ExtractUserId(tokenString)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	user, err := tr.db.GetAccountById(userId)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: account lookup: %v", ErrUnauthenticated, err)
	}

	return Identity{
		Id:          user.Id,
		Username:    user.Username,
		IsSuperuser: user.IsSuperuser,
	}, nil
}

// ExtractUserId verifies the token signature and returns the user id claim.
func (tr *TokenResolver) ExtractUserId(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return tr.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}

// Mint signs a session token for the given user id.
func (tr *TokenResolver) Mint(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(tr.signingKey)
}
