//go:build integration

package repositories

import "time"

func (r *VerificationCodeRepository) SetClock(now func() time.Time) { r.now = now }

func (r *PendingRegistrationRepository) SetClock(now func() time.Time) { r.now = now }
