package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
	"stockbook/backend/internal/xid"
)

func (s *Service) ListPayments(ctx context.Context, scope tenant.Scope, saleID string) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, scope, strings.TrimSpace(saleID))
}

// RecordPayment books a payment against a sale. Transfers and card payments
// name a bank of the sale's business; paying more than the balance due is
// rejected.
func (s *Service) RecordPayment(ctx context.Context, scope tenant.Scope, actor domain.Actor, saleID string, req domain.PaymentCreateRequest) (domain.Payment, error) {
	saleID = strings.TrimSpace(saleID)
	if err := scope.Check(); err != nil {
		return domain.Payment{}, err
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodTransfer, domain.PaymentMethodPOS:
	default:
		return domain.Payment{}, invalid("unknown payment method %q", req.Method)
	}
	if req.AmountCents <= 0 {
		return domain.Payment{}, invalid("amount must be positive")
	}
	bankID := strings.TrimSpace(req.BankID)
	if method != domain.PaymentMethodCash && bankID == "" {
		return domain.Payment{}, invalid("bank_id is required for %s payments", method)
	}

	var payment domain.Payment
	err := s.mutate(ctx, "payment_record", func(tx store.Tx) error {
		sale, err := tx.GetSale(ctx, scope, saleID)
		if err != nil {
			return err
		}
		bound, err := narrow(scope, sale.BusinessID)
		if err != nil {
			return err
		}
		if bankID != "" {
			if _, err := tx.GetBank(ctx, bound, bankID); err != nil {
				return fmt.Errorf("bank %s: %w", bankID, err)
			}
		}

		due := sale.BalanceDueCents()
		if req.AmountCents > due {
			return invalid("payment %d exceeds balance due %d", req.AmountCents, due)
		}
		paid := sale.PaidCents + req.AmountCents
		payment = domain.Payment{
			ID:              xid.New("pay"),
			BusinessID:      sale.BusinessID,
			SaleID:          sale.ID,
			AmountCents:     req.AmountCents,
			Method:          method,
			BankID:          bankID,
			ReferenceNo:     strings.TrimSpace(req.ReferenceNo),
			BalanceDueCents: sale.TotalCents - paid,
			Status:          paymentStatus(paid, sale.TotalCents),
			PaidAt:          s.now(),
			CreatedBy:       actor.Username,
		}
		if err := tx.InsertPayment(ctx, bound, payment); err != nil {
			return err
		}
		return tx.SetSalePaid(ctx, bound, sale.ID, paid)
	})
	if err != nil {
		return domain.Payment{}, err
	}

	logger.From(ctx).Info("payment recorded",
		logger.BusinessID(payment.BusinessID),
		logger.Entity("sale", payment.SaleID),
		logger.Entity("payment", payment.ID),
		logger.Actor(actor.Username),
		zap.Int64("amount_cents", payment.AmountCents),
		zap.String("status", payment.Status),
	)
	return payment, nil
}

// DeletePayment removes one payment of a sale and recomputes the sale's paid
// amount from the payments that remain.
func (s *Service) DeletePayment(ctx context.Context, scope tenant.Scope, actor domain.Actor, saleID, paymentID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	paymentID = strings.TrimSpace(paymentID)
	if err := scope.Check(); err != nil {
		return domain.Sale{}, err
	}

	var result domain.Sale
	var removed domain.Payment
	err := s.mutate(ctx, "payment_delete", func(tx store.Tx) error {
		sale, err := tx.GetSale(ctx, scope, saleID)
		if err != nil {
			return err
		}
		bound, err := narrow(scope, sale.BusinessID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPayment(ctx, bound, paymentID)
		if err != nil {
			return err
		}
		if payment.SaleID != sale.ID {
			return store.ErrNotFound
		}
		if err := tx.DeletePayment(ctx, bound, payment.ID); err != nil {
			return err
		}

		remaining, err := tx.ListPayments(ctx, bound, sale.ID)
		if err != nil {
			return err
		}
		var paid int64
		for _, p := range remaining {
			paid += p.AmountCents
		}
		if err := tx.SetSalePaid(ctx, bound, sale.ID, paid); err != nil {
			return err
		}
		sale.PaidCents = paid
		sale.UpdatedAt = s.now()
		result = *sale
		removed = *payment
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	logger.From(ctx).Info("payment deleted",
		logger.BusinessID(result.BusinessID),
		logger.Entity("sale", result.ID),
		logger.Entity("payment", removed.ID),
		logger.Actor(actor.Username),
		zap.Int64("amount_cents", removed.AmountCents),
		zap.Int64("paid_cents", result.PaidCents),
	)
	return result, nil
}

func paymentStatus(paid, total int64) string {
	switch {
	case paid <= 0:
		return domain.PaymentStatusPending
	case paid < total:
		return domain.PaymentStatusPartPaid
	default:
		return domain.PaymentStatusCompleted
	}
}
