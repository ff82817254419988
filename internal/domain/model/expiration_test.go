package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessCredential(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		credential string
		expiresAt  time.Time
		days       int
		hours      int
		expired    bool
		maxAge     int64
	}{
		{
			name:       "expires attribute",
			credential: "sessionid=abc; expires=Fri, 20 Mar 2026 18:00:00 GMT; HttpOnly; Path=/",
			expiresAt:  time.Date(2026, 3, 20, 18, 0, 0, 0, time.UTC),
			days:       10,
			hours:      246,
		},
		{
			name:       "expires is case insensitive with dashed date",
			credential: "sessionid=abc; EXPIRES=Fri, 20-Mar-2026 18:00:00 GMT",
			expiresAt:  time.Date(2026, 3, 20, 18, 0, 0, 0, time.UTC),
			days:       10,
			hours:      246,
		},
		{
			name:       "max-age relative to now",
			credential: "sessionid=abc; Max-Age=172800",
			expiresAt:  now.Add(48 * time.Hour),
			days:       2,
			hours:      48,
			maxAge:     172800,
		},
		{
			name:       "expires wins over max-age",
			credential: "sessionid=abc; Max-Age=60; expires=Fri, 20 Mar 2026 18:00:00 GMT",
			expiresAt:  time.Date(2026, 3, 20, 18, 0, 0, 0, time.UTC),
			days:       10,
			hours:      246,
			maxAge:     60,
		},
		{
			name:       "expired one second ago",
			credential: "sessionid=abc; expires=Tue, 10 Mar 2026 11:59:59 GMT",
			expiresAt:  time.Date(2026, 3, 10, 11, 59, 59, 0, time.UTC),
			expired:    true,
		},
		{
			name:       "expiring exactly now",
			credential: "sessionid=abc; Max-Age=0",
			expiresAt:  now,
			expired:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AssessCredential(tt.credential, now)

			require.NoError(t, err)
			assert.True(t, tt.expiresAt.Equal(got.ExpiresAt), "expires at %s, want %s", got.ExpiresAt, tt.expiresAt)
			assert.Equal(t, tt.days, got.DaysRemaining)
			assert.Equal(t, tt.hours, got.HoursRemaining)
			assert.Equal(t, tt.expired, got.IsExpired)
			assert.Equal(t, tt.maxAge, got.MaxAge)
		})
	}
}

func TestAssessCredential_Malformed(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, credential := range []string{
		"",
		"   ",
		"sessionid=abc; Path=/; HttpOnly",
		"sessionid=abc; expires=sometime next week",
	} {
		_, err := AssessCredential(credential, now)
		assert.ErrorIs(t, err, ErrMalformedCredential, "credential %q", credential)
	}
}

func TestExpirationAssessment_RenewalDue(t *testing.T) {
	tests := []struct {
		name string
		a    ExpirationAssessment
		want bool
	}{
		{"above threshold", ExpirationAssessment{DaysRemaining: 6}, false},
		{"at threshold", ExpirationAssessment{DaysRemaining: 5}, true},
		{"below threshold", ExpirationAssessment{DaysRemaining: 4}, true},
		{"expired", ExpirationAssessment{IsExpired: true, DaysRemaining: 30}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.RenewalDue(5))
		})
	}
}
