package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/clockpolicy"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreateSubscription(ctx context.Context, sub models.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}
func (m *RepoMock) ReadActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}
func (m *RepoMock) ExpireStaleSubscriptions(ctx context.Context, userUID string, now time.Time) (int, error) {
	args := m.Called(ctx, userUID, now)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) ArchiveActiveSubscription(ctx context.Context, userUID string) (int, error) {
	args := m.Called(ctx, userUID)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) MarkSubscriptionExpired(ctx context.Context, userUID string) (int, error) {
	args := m.Called(ctx, userUID)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) SetCancelAtPeriodEnd(ctx context.Context, userUID string) (int, error) {
	args := m.Called(ctx, userUID)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) SweepExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

type CatalogMock struct{ mock.Mock }

func (m *CatalogMock) GetOrCreateByDuration(ctx context.Context, duration int) (*models.Plan, error) {
	args := m.Called(ctx, duration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Plan), args.Error(1)
}

type TrialMock struct{ mock.Mock }

func (m *TrialMock) MarkUsed(ctx context.Context, userUID string) error {
	return m.Called(ctx, userUID).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Invalidate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func monthlyPlan() *models.Plan {
	return &models.Plan{ID: uuid.New(), Name: "monthly", Duration: 30, IsActive: true}
}

func TestSubscriptionService_Activate(t *testing.T) {
	plan := monthlyPlan()

	tests := []struct {
		name       string
		setupMocks func(r *RepoMock, c *CatalogMock, tr *TrialMock, ch *CacheMock)
		wantErr    error
	}{
		{
			name: "success first activation",
			setupMocks: func(r *RepoMock, c *CatalogMock, tr *TrialMock, ch *CacheMock) {
				c.On("GetOrCreateByDuration", mock.Anything, 30).Return(plan, nil).Once()
				r.On("ExpireStaleSubscriptions", mock.Anything, "user-1", mock.Anything).Return(0, nil).Once()
				r.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
					return s.UserUID == "user-1" && s.Status == models.StatusActive &&
						s.PlanID == plan.ID && s.Metadata["payment_ref"] == "pay-1"
				})).Return(nil).Once()
				tr.On("MarkUsed", mock.Anything, "user-1").Return(nil).Once()
				ch.On("Invalidate", mock.Anything, "status:user-1").Return(nil).Once()
			},
		},
		{
			name: "renewal after conflict archives previous window",
			setupMocks: func(r *RepoMock, c *CatalogMock, tr *TrialMock, ch *CacheMock) {
				c.On("GetOrCreateByDuration", mock.Anything, 30).Return(plan, nil).Once()
				r.On("ExpireStaleSubscriptions", mock.Anything, "user-1", mock.Anything).Return(0, nil).Twice()
				r.On("CreateSubscription", mock.Anything, mock.Anything).
					Return(apperr.ErrStoreConflict).Once()
				r.On("ArchiveActiveSubscription", mock.Anything, "user-1").Return(1, nil).Once()
				r.On("CreateSubscription", mock.Anything, mock.Anything).Return(nil).Once()
				tr.On("MarkUsed", mock.Anything, "user-1").Return(nil).Once()
				ch.On("Invalidate", mock.Anything, "status:user-1").Return(nil).Once()
			},
		},
		{
			name: "persistent conflict exhausts retries",
			setupMocks: func(r *RepoMock, c *CatalogMock, _ *TrialMock, _ *CacheMock) {
				c.On("GetOrCreateByDuration", mock.Anything, 30).Return(plan, nil).Once()
				r.On("ExpireStaleSubscriptions", mock.Anything, "user-1", mock.Anything).Return(0, nil).Times(3)
				r.On("CreateSubscription", mock.Anything, mock.Anything).
					Return(apperr.ErrStoreConflict).Times(3)
				r.On("ArchiveActiveSubscription", mock.Anything, "user-1").Return(1, nil).Twice()
			},
			wantErr: apperr.ErrStoreConflict,
		},
		{
			name: "plan resolution failure",
			setupMocks: func(_ *RepoMock, c *CatalogMock, _ *TrialMock, _ *CacheMock) {
				c.On("GetOrCreateByDuration", mock.Anything, 30).
					Return(nil, apperr.ErrPlanResolution).Once()
			},
			wantErr: apperr.ErrPlanResolution,
		},
		{
			name: "trial mark failure does not fail activation",
			setupMocks: func(r *RepoMock, c *CatalogMock, tr *TrialMock, ch *CacheMock) {
				c.On("GetOrCreateByDuration", mock.Anything, 30).Return(plan, nil).Once()
				r.On("ExpireStaleSubscriptions", mock.Anything, "user-1", mock.Anything).Return(0, nil).Once()
				r.On("CreateSubscription", mock.Anything, mock.Anything).Return(nil).Once()
				tr.On("MarkUsed", mock.Anything, "user-1").Return(errors.New("db down")).Once()
				ch.On("Invalidate", mock.Anything, "status:user-1").Return(nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			catalog := new(CatalogMock)
			trials := new(TrialMock)
			cache := new(CacheMock)
			tt.setupMocks(repo, catalog, trials, cache)

			svc := New(repo, catalog, trials, cache, clockpolicy.New("days"), newNoopLogger())
			sub, err := svc.Activate(context.Background(), "user-1", 30, "pay-1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, models.StatusActive, sub.Status)
				assert.True(t, sub.PeriodEnd.After(sub.PeriodStart))
			}
			repo.AssertExpectations(t)
			catalog.AssertExpectations(t)
			trials.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestSubscriptionService_GetActive_LazyExpiry(t *testing.T) {
	now := time.Now()
	stale := &models.Subscription{
		ID:        uuid.New(),
		UserUID:   "user-1",
		Status:    models.StatusActive,
		PeriodEnd: now.Add(-time.Minute),
	}

	repo := new(RepoMock)
	repo.On("ReadActiveSubscription", mock.Anything, "user-1").Return(stale, nil).Once()
	repo.On("ExpireStaleSubscriptions", mock.Anything, "user-1", mock.Anything).Return(1, nil).Once()
	cache := new(CacheMock)
	cache.On("Invalidate", mock.Anything, "status:user-1").Return(nil).Once()

	svc := New(repo, new(CatalogMock), new(TrialMock), cache, clockpolicy.New("days"), newNoopLogger())
	sub, err := svc.GetActive(context.Background(), "user-1")

	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Nil(t, sub)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestSubscriptionService_GetActive_Current(t *testing.T) {
	current := &models.Subscription{
		ID:        uuid.New(),
		UserUID:   "user-1",
		Status:    models.StatusActive,
		PeriodEnd: time.Now().Add(24 * time.Hour),
	}

	repo := new(RepoMock)
	repo.On("ReadActiveSubscription", mock.Anything, "user-1").Return(current, nil).Once()

	svc := New(repo, new(CatalogMock), new(TrialMock), new(CacheMock), clockpolicy.New("days"), newNoopLogger())
	sub, err := svc.GetActive(context.Background(), "user-1")

	assert.NoError(t, err)
	assert.Equal(t, current.ID, sub.ID)
	repo.AssertExpectations(t)
}

func TestSubscriptionService_CancelAtPeriodEnd(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(r *RepoMock, ch *CacheMock)
		wantErr    error
	}{
		{
			name: "success",
			setupMocks: func(r *RepoMock, ch *CacheMock) {
				r.On("SetCancelAtPeriodEnd", mock.Anything, "user-1").Return(1, nil).Once()
				ch.On("Invalidate", mock.Anything, "status:user-1").Return(nil).Once()
			},
		},
		{
			name: "no active subscription",
			setupMocks: func(r *RepoMock, _ *CacheMock) {
				r.On("SetCancelAtPeriodEnd", mock.Anything, "user-1").Return(0, nil).Once()
			},
			wantErr: apperr.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			cache := new(CacheMock)
			tt.setupMocks(repo, cache)

			svc := New(repo, new(CatalogMock), new(TrialMock), cache, clockpolicy.New("days"), newNoopLogger())
			err := svc.CancelAtPeriodEnd(context.Background(), "user-1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestSubscriptionService_MarkExpired(t *testing.T) {
	tests := []struct {
		name       string
		userUID    string
		setupMocks func(r *RepoMock, ch *CacheMock)
		wantErr    error
	}{
		{
			name:    "success",
			userUID: "user-1",
			setupMocks: func(r *RepoMock, ch *CacheMock) {
				r.On("MarkSubscriptionExpired", mock.Anything, "user-1").Return(1, nil).Once()
				ch.On("Invalidate", mock.Anything, "status:user-1").Return(nil).Once()
			},
		},
		{
			name:    "already expired is a no-op",
			userUID: "user-1",
			setupMocks: func(r *RepoMock, _ *CacheMock) {
				r.On("MarkSubscriptionExpired", mock.Anything, "user-1").Return(0, nil).Once()
			},
		},
		{
			name:       "empty user uid",
			userUID:    "",
			setupMocks: func(_ *RepoMock, _ *CacheMock) {},
			wantErr:    apperr.ErrInvalidUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			cache := new(CacheMock)
			tt.setupMocks(repo, cache)

			svc := New(repo, new(CatalogMock), new(TrialMock), cache, clockpolicy.New("days"), newNoopLogger())
			err := svc.MarkExpired(context.Background(), tt.userUID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestSubscriptionService_SweepExpired(t *testing.T) {
	expired := []*models.Subscription{
		{ID: uuid.New(), UserUID: "user-1"},
		{ID: uuid.New(), UserUID: "user-2"},
	}

	repo := new(RepoMock)
	repo.On("SweepExpiredSubscriptions", mock.Anything, mock.Anything).Return(expired, nil).Once()
	cache := new(CacheMock)
	cache.On("Invalidate", mock.Anything, "status:user-1").Return(nil).Once()
	cache.On("Invalidate", mock.Anything, "status:user-2").Return(nil).Once()

	svc := New(repo, new(CatalogMock), new(TrialMock), cache, clockpolicy.New("days"), newNoopLogger())
	got, err := svc.SweepExpired(context.Background())

	assert.NoError(t, err)
	assert.Len(t, got, 2)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}
