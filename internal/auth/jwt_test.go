package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/users"
)

const testSecret = "access-secret-32-chars-long!!!!!"

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	mgr := NewJWTManager(testSecret, 15*time.Minute)
	user := &users.User{ID: uuid.New(), Email: "agent@example.com", Role: users.RoleAgent}

	t.Run("round trip carries role", func(t *testing.T) {
		token, err := mgr.GenerateAccessToken(user)
		require.NoError(t, err)
		assert.Equal(t, int64(900), token.ExpiresIn)
		assert.Equal(t, "Bearer", token.TokenType)

		claims, err := mgr.ValidateAccessToken(token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "agent@example.com", claims.Email)

		actor, err := claims.Actor()
		require.NoError(t, err)
		assert.Equal(t, user.ID, actor.ID)
		assert.Equal(t, users.RoleAgent, actor.Role)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := mgr.ValidateAccessToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("token signed with another secret fails", func(t *testing.T) {
		other := NewJWTManager("another-secret-32-chars-long!!!!", time.Minute)
		token, err := other.GenerateAccessToken(user)
		require.NoError(t, err)
		_, err = mgr.ValidateAccessToken(token.AccessToken)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		shortMgr := NewJWTManager(testSecret, -1*time.Second)
		token, err := shortMgr.GenerateAccessToken(user)
		require.NoError(t, err)

		_, err = shortMgr.ValidateAccessToken(token.AccessToken)
		assert.Error(t, err)
	})
}

func TestAccessClaims_ActorRejectsUnknownRole(t *testing.T) {
	claims := &AccessClaims{UserID: uuid.NewString(), Role: "root"}
	_, err := claims.Actor()
	assert.Error(t, err)

	claims = &AccessClaims{UserID: "not-a-uuid", Role: "admin"}
	_, err = claims.Actor()
	assert.Error(t, err)
}
