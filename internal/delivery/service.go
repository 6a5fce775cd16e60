package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/freshline-erp/freshline-erp/internal/shared"
)

// AuditPort records who did what to which delivery.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates delivery lifecycle operations.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
}

// NewService wires a delivery service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Get returns one delivery by id.
func (s *Service) Get(ctx context.Context, id int64) (*Delivery, error) {
	return s.repo.Get(ctx, id)
}

// GetByOrder returns the delivery attached to an order.
func (s *Service) GetByOrder(ctx context.Context, orderID int64) (*Delivery, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

// List returns a filtered page of deliveries.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Delivery, int, error) {
	return s.repo.List(ctx, req)
}

// GetProof returns the proof-of-delivery record, nil when none was captured.
func (s *Service) GetProof(ctx context.Context, deliveryID int64) (*ProofOfDelivery, error) {
	if _, err := s.repo.Get(ctx, deliveryID); err != nil {
		return nil, err
	}
	return s.repo.GetProof(ctx, deliveryID)
}

// Assign puts a driver on a pending delivery.
func (s *Service) Assign(ctx context.Context, id int64, driverID int64) (*Delivery, error) {
	if driverID == 0 {
		return nil, ErrDriverRequired
	}
	return s.transition(ctx, id, StatusAssigned, map[string]interface{}{"driver_id": driverID}, "delivery:assign")
}

// Unassign pulls an assigned delivery back to pending and clears the driver.
func (s *Service) Unassign(ctx context.Context, id int64) (*Delivery, error) {
	return s.transition(ctx, id, StatusPending, map[string]interface{}{"driver_id": nil}, "delivery:unassign")
}

// Start marks the delivery as on the road.
func (s *Service) Start(ctx context.Context, id int64) (*Delivery, error) {
	return s.transition(ctx, id, StatusInTransit, nil, "delivery:start")
}

// MarkDelivered records arrival. The delivered_at timestamp is stamped once
// and survives a later in_transit→assigned→in_transit bounce.
func (s *Service) MarkDelivered(ctx context.Context, id int64) (*Delivery, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if current.DeliveredAt == nil {
		updates["delivered_at"] = time.Now().UTC()
	}
	return s.transition(ctx, id, StatusDelivered, updates, "delivery:delivered")
}

// Cancel aborts a delivery that has not yet arrived.
func (s *Service) Cancel(ctx context.Context, id int64) (*Delivery, error) {
	return s.transition(ctx, id, StatusCancelled, nil, "delivery:cancel")
}

// SaveProof upserts the signature/photo record for an assigned-or-later
// delivery. Only one proof row exists per delivery; repeated captures
// overwrite it.
func (s *Service) SaveProof(ctx context.Context, deliveryID int64, signatureRef, photoRef *string) (*ProofOfDelivery, error) {
	current, err := s.repo.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusPending || current.Status == StatusCancelled {
		return nil, invalidTransition(current.Status, StatusDelivered)
	}
	proof := ProofOfDelivery{
		DeliveryID:   deliveryID,
		SignatureRef: signatureRef,
		PhotoRef:     photoRef,
		CapturedBy:   shared.ActorFromContext(ctx),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpsertProof(ctx, proof)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "delivery:proof", deliveryID, nil)
	return s.repo.GetProof(ctx, deliveryID)
}

// transition loads the delivery, validates the state machine, then flips the
// status with a conditional update so two racing transitions cannot both win.
func (s *Service) transition(ctx context.Context, id int64, next Status, updates map[string]interface{}, action string) (*Delivery, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(next) {
		return nil, invalidTransition(current.Status, next)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.UpdateStatus(ctx, id, next, []Status{current.Status}, updates)
		if err != nil {
			return err
		}
		if !ok {
			return invalidTransition(current.Status, next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, action, id, map[string]any{"from": string(current.Status), "to": string(next)})
	return s.repo.Get(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "delivery",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("delivery_id", id), slog.String("error", err.Error()))
	}
}
