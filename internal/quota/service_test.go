package quota_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/fault"
	inats "github.com/versatiles/printops/internal/nats"
	"github.com/versatiles/printops/internal/nats/natstest"
	"github.com/versatiles/printops/internal/quota"
	"github.com/versatiles/printops/internal/quota/quotatest"
)

var (
	october  = time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	operator = uuid.New()
)

func testConfig() config.QuotaConfig {
	return config.QuotaConfig{
		DefaultBWLimit:    3000,
		DefaultColorLimit: 2000,
		WarningThreshold:  0.8,
		MinTopup:          1000,
		LockTimeout:       time.Second,
	}
}

func newService(t *testing.T) (*quota.Service, *quotatest.Ledger, *natstest.Recorder) {
	t.Helper()
	ledger := quotatest.NewLedger()
	rec := &natstest.Recorder{}
	svc := quota.NewService(ledger, testConfig(), rec)
	svc.SetClock(func() time.Time { return october.Add(10 * 24 * time.Hour) })
	return svc, ledger, rec
}

func TestCheckAvailability_InsufficientBW(t *testing.T) {
	svc, ledger, _ := newService(t)
	client := uuid.New()
	ledger.Seed(client, october, svc.Limits(), func(q *quota.ClientQuota) { q.BWUsed = 2900 })

	err := svc.CheckAvailability(context.Background(), client, october, 150, 0)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindQuotaExceeded))

	var ex *quota.ExceededError
	require.ErrorAs(t, err, &ex)
	require.Len(t, ex.Shortfalls, 1)
	s, ok := ex.Shortfall(quota.KindBW)
	require.True(t, ok)
	assert.Equal(t, 150, s.Requested)
	assert.Equal(t, 100, s.Available)
	assert.Equal(t, 50, s.Shortfall)
	assert.InDelta(t, 96.67, s.PercentUsed, 0.001)

	q, err := ledger.Get(context.Background(), client, october)
	require.NoError(t, err)
	assert.Equal(t, 2900, q.BWUsed, "a failed check must not change usage")
}

func TestCheckAvailability_ReportsEveryShortKind(t *testing.T) {
	svc, ledger, _ := newService(t)
	client := uuid.New()
	ledger.Seed(client, october, svc.Limits(), func(q *quota.ClientQuota) {
		q.BWUsed = 3000
		q.ColorUsed = 1990
	})

	err := svc.CheckAvailability(context.Background(), client, october, 1, 20)
	var ex *quota.ExceededError
	require.ErrorAs(t, err, &ex)
	assert.Len(t, ex.Shortfalls, 2)
}

func TestCheckAvailability_NoRowUsesDefaults(t *testing.T) {
	svc, _, _ := newService(t)
	client := uuid.New()

	require.NoError(t, svc.CheckAvailability(context.Background(), client, october, 3000, 2000))
	require.Error(t, svc.CheckAvailability(context.Background(), client, october, 3001, 0))
}

func TestDeduct_AfterTopup(t *testing.T) {
	svc, ledger, rec := newService(t)
	ctx := context.Background()
	client, admin := uuid.New(), uuid.New()
	ledger.Seed(client, october, svc.Limits(), func(q *quota.ClientQuota) { q.BWUsed = 2900 })

	topup, err := svc.ApplyTopup(ctx, quota.TopupRequest{ClientID: client, AdminID: admin, BWAdded: 1000})
	require.NoError(t, err)
	assert.Equal(t, october, quota.MonthOf(topup.TransactionDate))

	q, err := svc.Deduct(ctx, operator, client, october, 150, 0)
	require.NoError(t, err)
	assert.Equal(t, 4000, q.TotalLimit(quota.KindBW))
	assert.Equal(t, 3050, q.BWUsed)
	assert.Equal(t, 950, q.Available(quota.KindBW))

	require.Len(t, rec.Audits(inats.ActionQuotaTopup), 1)
	require.Len(t, rec.Audits(inats.ActionQuotaDeducted), 1)
	notes := rec.Notifications(inats.CategoryTopupApplied)
	require.Len(t, notes, 1)
	assert.Equal(t, client, notes[0].RecipientID)
}

func TestTopup_OnlyRaisesItsOwnMonth(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	client := uuid.New()

	_, err := svc.ApplyTopup(ctx, quota.TopupRequest{ClientID: client, AdminID: uuid.New(), ColorAdded: 1500})
	require.NoError(t, err)

	oct, err := svc.Summary(ctx, client, october)
	require.NoError(t, err)
	assert.Equal(t, 3500, oct.Color.TotalLimit)
	assert.Len(t, oct.TopupsHistory, 1)

	nov, err := svc.Summary(ctx, client, october.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 2000, nov.Color.TotalLimit)
	assert.Empty(t, nov.TopupsHistory)
}

func TestApplyTopup_Validation(t *testing.T) {
	tests := []struct {
		name  string
		bw    int
		color int
	}{
		{"negative bw", -1000, 0},
		{"negative color", 1000, -5},
		{"nothing added", 0, 0},
		{"bw below minimum", 999, 0},
		{"color below minimum", 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, rec := newService(t)
			_, err := svc.ApplyTopup(context.Background(), quota.TopupRequest{
				ClientID: uuid.New(), AdminID: uuid.New(), BWAdded: tt.bw, ColorAdded: tt.color,
			})
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.KindValidation))
			assert.Empty(t, rec.Audits(""))
		})
	}
}

func TestDeductRefund_Conservation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	client := uuid.New()

	_, err := svc.Deduct(ctx, operator, client, october, 100, 40)
	require.NoError(t, err)
	_, err = svc.Deduct(ctx, operator, client, october, 200, 0)
	require.NoError(t, err)
	q, err := svc.Refund(ctx, operator, client, october, 100, 40, "order rejected")
	require.NoError(t, err)

	assert.Equal(t, 200, q.BWUsed)
	assert.Equal(t, 0, q.ColorUsed)
}

func TestDeductRefund_AuditCarriesActor(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()
	client, agent := uuid.New(), uuid.New()

	_, err := svc.Deduct(ctx, agent, client, october, 10, 0)
	require.NoError(t, err)
	_, err = svc.Refund(ctx, agent, client, october, 10, 0, "order not persisted")
	require.NoError(t, err)

	for _, action := range []string{inats.ActionQuotaDeducted, inats.ActionQuotaRefunded} {
		events := rec.Audits(action)
		require.Len(t, events, 1, action)
		require.NotNil(t, events[0].ActorID, action)
		assert.Equal(t, agent, *events[0].ActorID, action)
	}
}

func TestRefund_ClampsAtZero(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()
	client := uuid.New()

	_, err := svc.Deduct(ctx, operator, client, october, 5, 5)
	require.NoError(t, err)
	q, err := svc.Refund(ctx, operator, client, october, 50, 2, "over refund")
	require.NoError(t, err)
	assert.Equal(t, 0, q.BWUsed)
	assert.Equal(t, 3, q.ColorUsed)

	refunds := rec.Audits(inats.ActionQuotaRefunded)
	require.Len(t, refunds, 1)
	assert.Equal(t, "over refund", refunds[0].Details["reason"])
}

func TestDeduct_RejectsNegative(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Deduct(context.Background(), operator, uuid.New(), october, -1, 0)
	assert.True(t, fault.Is(err, fault.KindValidation))
}

func TestDeduct_ConcurrentNeverOvercommits(t *testing.T) {
	ledger := quotatest.NewLedger()
	cfg := testConfig()
	cfg.DefaultBWLimit = 100
	svc := quota.NewService(ledger, cfg, &natstest.Recorder{})
	client := uuid.New()

	var wg sync.WaitGroup
	var ok, exceeded atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deduct(context.Background(), operator, client, october, 3, 0)
			switch {
			case err == nil:
				ok.Add(1)
			case fault.Is(err, fault.KindQuotaExceeded):
				exceeded.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(33), ok.Load())
	assert.Equal(t, int32(17), exceeded.Load())
	q, err := ledger.Get(context.Background(), client, october)
	require.NoError(t, err)
	assert.Equal(t, 99, q.BWUsed)
}

func TestDeduct_LockWaitCancelled(t *testing.T) {
	svc, ledger, _ := newService(t)
	client := uuid.New()
	release := ledger.Hold(client, october)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Deduct(ctx, operator, client, october, 10, 0)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindStorage))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Retryable())
}

func TestDeduct_LedgerFailureIsStorageFault(t *testing.T) {
	svc, ledger, rec := newService(t)
	ledger.Err = errors.New("connection refused")

	_, err := svc.Deduct(context.Background(), operator, uuid.New(), october, 1, 0)
	assert.True(t, fault.Is(err, fault.KindStorage))
	assert.Empty(t, rec.Audits(""))
}

func TestAvailable_NegativeBalanceIsIntegrityFault(t *testing.T) {
	svc, ledger, _ := newService(t)
	client := uuid.New()
	ledger.Seed(client, october, svc.Limits(), func(q *quota.ClientQuota) { q.BWUsed = 3100 })

	_, err := svc.Available(context.Background(), client, october, quota.KindBW)
	assert.True(t, fault.Is(err, fault.KindStorage))
	assert.ErrorIs(t, err, quota.ErrLedgerIntegrity)

	available, err := svc.Available(context.Background(), client, october, quota.KindColor)
	require.NoError(t, err)
	assert.Equal(t, 2000, available)
}

func TestThresholdCrossed_OncePerKindPerMonth(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	client := uuid.New()

	_, err := svc.Deduct(ctx, operator, client, october, 2399, 0)
	require.NoError(t, err)
	alert, err := svc.ThresholdCrossed(ctx, client, october, quota.KindBW)
	require.NoError(t, err)
	assert.Nil(t, alert, "79.97% is below the threshold")

	_, err = svc.Deduct(ctx, operator, client, october, 1, 0)
	require.NoError(t, err)
	alert, err = svc.ThresholdCrossed(ctx, client, october, quota.KindBW)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, 2400, alert.Used)
	assert.Equal(t, 3000, alert.Total)
	assert.Contains(t, alert.Message(), "80.0%")

	_, err = svc.Deduct(ctx, operator, client, october, 100, 0)
	require.NoError(t, err)
	alert, err = svc.ThresholdCrossed(ctx, client, october, quota.KindBW)
	require.NoError(t, err)
	assert.Nil(t, alert, "alert fires once per month")

	alert, err = svc.ThresholdCrossed(ctx, client, october, quota.KindColor)
	require.NoError(t, err)
	assert.Nil(t, alert)

	november := october.AddDate(0, 1, 0)
	_, err = svc.Deduct(ctx, operator, client, november, 2500, 0)
	require.NoError(t, err)
	alert, err = svc.ThresholdCrossed(ctx, client, november, quota.KindBW)
	require.NoError(t, err)
	assert.NotNil(t, alert, "a new month re-arms the alert")
}

func TestThresholdCrossed_ZeroLimitNeverAlerts(t *testing.T) {
	ledger := quotatest.NewLedger()
	cfg := testConfig()
	cfg.DefaultColorLimit = 0
	svc := quota.NewService(ledger, cfg, &natstest.Recorder{})

	alert, err := svc.ThresholdCrossed(context.Background(), uuid.New(), october, quota.KindColor)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestSummary(t *testing.T) {
	svc, ledger, _ := newService(t)
	client := uuid.New()
	ledger.Seed(client, october, svc.Limits(), func(q *quota.ClientQuota) {
		q.BWUsed = 1500
		q.ColorUsed = 500
	})

	s, err := svc.Summary(context.Background(), client, october)
	require.NoError(t, err)
	assert.Equal(t, "2026-10", s.Month)
	assert.Equal(t, 1500, s.BW.Available)
	assert.Equal(t, 50.0, s.BW.PercentUsed)
	assert.Equal(t, 25.0, s.Color.PercentUsed)
	assert.NotNil(t, s.TopupsHistory)
}

func TestGetOrCreate_AppliesDefaultsOnce(t *testing.T) {
	svc, ledger, _ := newService(t)
	ctx := context.Background()
	client := uuid.New()

	q, err := svc.GetOrCreate(ctx, client, october.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Equal(t, october, q.Month)
	assert.Equal(t, 3000, q.BWLimit)
	assert.Equal(t, 2000, q.ColorLimit)

	ledger.Seed(client, october, svc.Limits(), func(q *quota.ClientQuota) { q.BWLimit = 5000 })
	again, err := svc.GetOrCreate(ctx, client, october)
	require.NoError(t, err)
	assert.Equal(t, q.ID, again.ID)
	assert.Equal(t, 5000, again.BWLimit, "an existing row keeps its limits")
}

func TestScenario_SequentialDeductsAgainstLimit(t *testing.T) {
	svc, ledger, _ := newService(t)
	ctx := context.Background()
	client := uuid.New()
	ledger.Seed(client, october, svc.Limits(), func(q *quota.ClientQuota) { q.BWUsed = 2900 })

	q, err := svc.Deduct(ctx, operator, client, october, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2950, q.BWUsed)

	_, err = svc.Deduct(ctx, operator, client, october, 100, 0)
	var ex *quota.ExceededError
	require.ErrorAs(t, err, &ex)
	s, ok := ex.Shortfall(quota.KindBW)
	require.True(t, ok)
	assert.Equal(t, 50, s.Shortfall)

	after, err := ledger.Get(ctx, client, october)
	require.NoError(t, err)
	assert.Equal(t, 2950, after.BWUsed)
}
