package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInviteRecordExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		record InviteRecord
		want   bool
	}{
		{"unlimited", InviteRecord{Uses: 100}, false},
		{"uses left", InviteRecord{Uses: 1, MaxUses: ptr(2)}, false},
		{"used up", InviteRecord{Uses: 2, MaxUses: ptr(2)}, true},
		{"not expired", InviteRecord{ExpiresAt: ptr(now.Add(time.Hour))}, false},
		{"expired", InviteRecord{ExpiresAt: ptr(now)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Expired(now))
		})
	}
}
