package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret-password", hash)

	u := &User{Password: hash}
	assert.True(t, u.CheckPassword("s3cret-password"))
	assert.False(t, u.CheckPassword("wrong-password"))
	assert.False(t, u.CheckPassword(""))
}

func TestUserValidate(t *testing.T) {
	valid := &User{
		Name:     "Test User",
		Email:    "user@example.com",
		Password: "hashedpassword",
		Status:   STATUS_ACTIVE,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		user User
	}{
		{name: "missing email", user: User{Name: "Test User", Password: "hashedpassword", Status: STATUS_ACTIVE}},
		{name: "bad email", user: User{Name: "Test User", Email: "not-an-email", Password: "hashedpassword", Status: STATUS_ACTIVE}},
		{name: "short name", user: User{Name: "ab", Email: "user@example.com", Password: "hashedpassword", Status: STATUS_ACTIVE}},
		{name: "bad status", user: User{Name: "Test User", Email: "user@example.com", Password: "hashedpassword", Status: "banned"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.user.Validate())
		})
	}
}
