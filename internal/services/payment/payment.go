// Package payment содержит бизнес-логику сверки платежей и активации доступа.
//
// Сверка идемпотентна по gateway_reference: журнал платежей append-only с
// уникальной ссылкой шлюза, строка захватывается атомарной вставкой, и повтор
// той же ссылки возвращает исходный результат без второй активации.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/metrics"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
	"github.com/magabrotheeeer/mealplan-backend/internal/paymentprovider"
)

// PaymentRepository определяет методы для работы с платёжным журналом.
type PaymentRepository interface {
	ClaimPaymentTransaction(ctx context.Context, tx models.PaymentTransaction) (bool, error)
	ReadPaymentTransaction(ctx context.Context, gatewayReference string) (*models.PaymentTransaction, error)
	CompletePaymentTransaction(ctx context.Context, gatewayReference string) (int, error)
	FailPaymentTransaction(ctx context.Context, gatewayReference string) (int, error)
	ReopenPaymentTransaction(ctx context.Context, gatewayReference string) (int, error)
}

// Gateway описывает клиент платёжного шлюза.
type Gateway interface {
	GetPayment(ctx context.Context, reference string) (*paymentprovider.PaymentResponse, error)
}

// Activator активирует подписку после подтверждения платежа.
type Activator interface {
	Activate(ctx context.Context, userUID string, duration int, paymentRef string) (*models.Subscription, error)
}

// PlanCatalog разрешает план по номинальной длительности и уточняет цену
// синтезированного плана по фактической сумме платежа.
type PlanCatalog interface {
	GetOrCreateByDuration(ctx context.Context, duration int) (*models.Plan, error)
	RefinePrice(ctx context.Context, id uuid.UUID, price float64) error
}

// Service реализует бизнес-логику сверки платежей.
type Service struct {
	repo          PaymentRepository
	gateway       Gateway
	subscriptions Activator
	catalog       PlanCatalog
	log           *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo PaymentRepository, gateway Gateway, subscriptions Activator,
	catalog PlanCatalog, log *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		subscriptions: subscriptions,
		catalog:       catalog,
		log:           log,
	}
}

// VerifyAndActivate сверяет платёж со шлюзом и при подтверждении активирует
// подписку пользователя на duration номинальных единиц.
//
// Порядок строгий: сначала запрос к шлюзу, мутации только после его ответа.
// Недоступность шлюза (таймаут, сетевая ошибка) возвращает
// apperr.ErrGatewayVerification без каких-либо изменений состояния — вызов
// можно безопасно повторить. Повторная сверка уже применённой ссылки находит
// completed-строку журнала и возвращает её без второй активации.
func (s *Service) VerifyAndActivate(ctx context.Context, userUID, reference string, duration int) (*models.PaymentTransaction, error) {
	const op = "services.payment.VerifyAndActivate"
	if userUID == "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}

	existing, err := s.repo.ReadPaymentTransaction(ctx, reference)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil && existing.Status == models.PaymentCompleted {
		metrics.PaymentVerifications.WithLabelValues("duplicate").Inc()
		s.log.Info("payment already reconciled, replay short-circuited",
			sl.UID(userUID), slog.String("reference", reference))
		return existing, nil
	}

	payment, err := s.gateway.GetPayment(ctx, reference)
	if err != nil {
		s.log.Error("gateway verification failed", sl.Err(err), slog.String("reference", reference))
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrGatewayVerification)
	}
	if !payment.Succeeded() {
		metrics.PaymentVerifications.WithLabelValues("pending").Inc()
		s.log.Info("payment not confirmed by gateway",
			slog.String("reference", reference), slog.String("status", payment.Status))
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrGatewayVerification)
	}

	amount, err := strconv.ParseFloat(payment.Amount.Value, 64)
	if err != nil {
		amount = 0
	}

	// План разрешается до захвата строки журнала: plan_id в журнале ссылается
	// на каталог, строка без плана невалидна.
	plan, err := s.catalog.GetOrCreateByDuration(ctx, duration)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tx := models.PaymentTransaction{
		ID:               uuid.New(),
		UserUID:          userUID,
		PlanID:           plan.ID,
		GatewayReference: reference,
		Amount:           amount,
		Currency:         payment.Amount.Currency,
		Status:           models.PaymentPending,
		Metadata:         payment.Metadata,
		CreatedAt:        time.Now(),
	}
	claimed, err := s.repo.ClaimPaymentTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		// Ссылку уже захватил конкурентный или прошлый вызов: строка могла
		// дойти до completed, зависнуть в pending или остаться failed после
		// сорвавшейся активации. CompletePaymentTransaction ниже доведёт
		// pending до конца ровно в одном из вызовов.
		current, err := s.repo.ReadPaymentTransaction(ctx, reference)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if current.Status == models.PaymentCompleted {
			metrics.PaymentVerifications.WithLabelValues("duplicate").Inc()
			return current, nil
		}
		if current.Status == models.PaymentFailed {
			// Платёж подтверждён шлюзом, прошлая попытка сорвалась после
			// захвата: возвращаем строку в pending, иначе успешный повтор
			// не сможет довести её до completed.
			if _, err := s.repo.ReopenPaymentTransaction(ctx, reference); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			current.Status = models.PaymentPending
		}
		tx = *current
	}

	sub, err := s.subscriptions.Activate(ctx, userUID, duration, reference)
	if err != nil {
		if _, failErr := s.repo.FailPaymentTransaction(ctx, reference); failErr != nil {
			s.log.Error("failed to mark payment failed", sl.Err(failErr), slog.String("reference", reference))
		}
		metrics.PaymentVerifications.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if amount > 0 {
		if err := s.catalog.RefinePrice(ctx, sub.PlanID, amount); err != nil {
			s.log.Warn("failed to refine plan price", sl.Err(err),
				slog.String("plan_id", sub.PlanID.String()))
		}
	}

	count, err := s.repo.CompletePaymentTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		// Конкурентный вызов успел завершить строку первым.
		metrics.PaymentVerifications.WithLabelValues("duplicate").Inc()
	} else {
		metrics.PaymentVerifications.WithLabelValues("completed").Inc()
		metrics.SubscriptionActivations.Inc()
	}

	tx.Status = models.PaymentCompleted
	s.log.Info("payment reconciled and subscription activated",
		sl.UID(userUID), slog.String("reference", reference),
		slog.Time("period_end", sub.PeriodEnd))
	return &tx, nil
}
