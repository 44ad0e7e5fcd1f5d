package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
)

func TestNewToken_Valid(t *testing.T) {
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tok, err := model.NewToken(model.Gtoken, "g-abc", issued)

	require.NoError(t, err)
	assert.Equal(t, model.Gtoken, tok.Name)
	assert.Equal(t, "g-abc", tok.Value)
	assert.Equal(t, issued, tok.IssuedAt)
}

func TestNewToken_UnknownName(t *testing.T) {
	_, err := model.NewToken("refresh_token", "v", time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestNewToken_EmptyValue(t *testing.T) {
	_, err := model.NewToken(model.BulletToken, "", time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestToken_SessionTokenNeverExpires(t *testing.T) {
	issued := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := model.Token{Name: model.SessionToken, Value: "s", IssuedAt: issued}

	assert.False(t, tok.Expired(issued.Add(10*365*24*time.Hour)))
}

func TestToken_Expired(t *testing.T) {
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   model.TokenName
		elapsed time.Duration
		expired bool
	}{
		{"gtoken fresh", model.Gtoken, 6 * time.Hour, false},
		{"gtoken at ttl", model.Gtoken, 6*time.Hour + 30*time.Minute, false},
		{"gtoken past ttl", model.Gtoken, 7 * time.Hour, true},
		{"bullet fresh", model.BulletToken, 90 * time.Minute, false},
		{"bullet past ttl", model.BulletToken, 2*time.Hour + time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := model.Token{Name: tt.token, Value: "v", IssuedAt: issued}
			assert.Equal(t, tt.expired, tok.Expired(issued.Add(tt.elapsed)))
		})
	}
}

func TestToken_BulletLifetimeShorterThanGtoken(t *testing.T) {
	assert.Less(t, model.Lifetimes[model.BulletToken], model.Lifetimes[model.Gtoken])
}

func TestChain_DependencyOrder(t *testing.T) {
	require.Equal(t, []model.TokenName{model.SessionToken, model.Gtoken, model.BulletToken}, model.Chain)
}
