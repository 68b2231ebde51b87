package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fraudgate/internal/fraud"
	"fraudgate/internal/storage"
)

var (
	// ErrInvalidAmount rejects a transfer before the pipeline runs.
	ErrInvalidAmount = errors.New("transfer: amount must be positive")

	// ErrStoreNotReady rejects a real transfer when persistence is not
	// wired. Demo transfers never persist, so they are unaffected.
	ErrStoreNotReady = errors.New("transfer: persistence not available")
)

const defaultPaymentMethod = "bank_transfer"

// NewBeneficiary carries inline beneficiary details supplied with a transfer.
type NewBeneficiary struct {
	Name          string
	UPIID         string
	AccountNumber string
	IFSCCode      string
}

// Request describes one transfer attempt.
type Request struct {
	UserID         string
	Amount         decimal.Decimal
	Description    string
	BeneficiaryID  string
	NewBeneficiary *NewBeneficiary
	PaymentMethod  string

	// Demo transfers honor the real fraud verdict but never persist.
	Demo bool
}

// Result is the decided outcome of a transfer attempt.
type Result struct {
	Status          string
	Flagged         bool
	RiskScore       float64
	TransactionID   string
	BeneficiaryID   string
	BeneficiaryName string
	Evaluation      fraud.Evaluation
	Simulated       bool
}

// Authorizer drives a transfer through its states: validate, resolve
// beneficiary, evaluate risk, decide, persist. One evaluation pass per
// attempt; a flagged transfer is terminal here, escalation is external.
type Authorizer struct {
	evaluator     *fraud.Evaluator
	transactions  storage.TransactionStore
	beneficiaries storage.BeneficiaryStore
	events        storage.FraudEventStore
	audit         storage.AuditStore
	locker        storage.UserLocker
	logger        zerolog.Logger
	now           func() time.Time
}

// NewAuthorizer wires the transfer pipeline. events, audit, and locker are
// optional; a nil locker drops per-user serialization.
func NewAuthorizer(
	evaluator *fraud.Evaluator,
	transactions storage.TransactionStore,
	beneficiaries storage.BeneficiaryStore,
	events storage.FraudEventStore,
	audit storage.AuditStore,
	locker storage.UserLocker,
	logger zerolog.Logger,
) *Authorizer {
	return &Authorizer{
		evaluator:     evaluator,
		transactions:  transactions,
		beneficiaries: beneficiaries,
		events:        events,
		audit:         audit,
		locker:        locker,
		logger:        logger.With().Str("component", "transfer_authorizer").Logger(),
		now:           time.Now,
	}
}

// Authorize runs one transfer attempt to completion.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (Result, error) {
	if !req.Amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}

	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = defaultPaymentMethod
	}

	beneficiaryID, beneficiaryName, err := a.resolveBeneficiary(ctx, req)
	if err != nil {
		return Result{}, err
	}

	// Serialise evaluate-then-persist per user so two concurrent transfers
	// cannot both read a stale velocity count.
	if !req.Demo && a.locker != nil {
		unlock, lockErr := a.locker.AcquireUserLock(ctx, req.UserID)
		if lockErr != nil {
			a.logger.Warn().Err(lockErr).Str("user_id", req.UserID).Msg("user lock unavailable; proceeding unserialised")
		} else {
			defer unlock()
		}
	}

	// The memo stays off the evaluation: only amount, history, and the
	// beneficiary inform the verdict. Direct check callers may still pass
	// a description of their own.
	eval := a.evaluator.Evaluate(ctx, req.UserID, req.Amount, beneficiaryID, "")

	status := storage.StatusCompleted
	if !eval.Safe {
		status = storage.StatusFlagged
	}

	result := Result{
		Status:          status,
		Flagged:         !eval.Safe,
		RiskScore:       eval.RiskScore,
		BeneficiaryID:   beneficiaryID,
		BeneficiaryName: beneficiaryName,
		Evaluation:      eval,
	}

	if req.Demo {
		result.Simulated = true
		a.logger.Info().
			Str("user_id", req.UserID).
			Str("status", status).
			Float64("risk_score", eval.RiskScore).
			Msg("demo transfer simulated")
		return result, nil
	}

	if a.transactions == nil {
		return Result{}, ErrStoreNotReady
	}

	record, err := a.persistTransaction(ctx, req, eval, status, paymentMethod, beneficiaryID, beneficiaryName)
	if err != nil {
		return Result{}, err
	}
	result.TransactionID = record.ID

	if !eval.Safe {
		a.appendFraudEvent(ctx, req, eval, record.ID, beneficiaryID)
	}
	a.appendAudit(ctx, req, eval, record.ID, status)

	a.logger.Info().
		Str("user_id", req.UserID).
		Str("transaction_id", record.ID).
		Str("status", status).
		Float64("risk_score", eval.RiskScore).
		Strs("flags", eval.Flags).
		Msg("transfer decided")

	return result, nil
}

func (a *Authorizer) resolveBeneficiary(ctx context.Context, req Request) (id, name string, err error) {
	if req.BeneficiaryID != "" {
		return req.BeneficiaryID, "", nil
	}
	if req.NewBeneficiary == nil {
		return "", "", nil
	}

	nb := req.NewBeneficiary
	if req.Demo {
		// Ephemeral seed id so the demo flow has a counterparty without a
		// persisted record.
		seed := "seed-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
		benName := nb.Name
		if benName == "" {
			benName = "Unknown"
		}
		return seed, benName, nil
	}

	if a.beneficiaries == nil {
		return "", "", ErrStoreNotReady
	}

	ben := storage.Beneficiary{
		ID:       uuid.New().String(),
		UserID:   req.UserID,
		Name:     nb.Name,
		AddedVia: "manual",
	}
	if nb.UPIID != "" {
		ben.UPIID = &nb.UPIID
	}
	if nb.AccountNumber != "" {
		ben.AccountNumber = &nb.AccountNumber
	}
	if nb.IFSCCode != "" {
		ben.IFSCCode = &nb.IFSCCode
	}

	created, err := a.beneficiaries.InsertBeneficiary(ctx, ben)
	if err != nil {
		return "", "", fmt.Errorf("add beneficiary: %w", err)
	}
	return created.ID, created.Name, nil
}

func (a *Authorizer) persistTransaction(
	ctx context.Context,
	req Request,
	eval fraud.Evaluation,
	status, paymentMethod, beneficiaryID, beneficiaryName string,
) (storage.Transaction, error) {
	metadata, err := json.Marshal(map[string]fraud.CheckResult{"fraud": eval.Wire()})
	if err != nil {
		return storage.Transaction{}, fmt.Errorf("marshal evaluation metadata: %w", err)
	}

	record := storage.Transaction{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Type:             storage.TypeSend,
		Amount:           req.Amount,
		Currency:         "INR",
		Status:           status,
		PaymentMethod:    paymentMethod,
		Metadata:         metadata,
		RiskScore:        eval.RiskScore,
		FraudCheckPassed: eval.Safe,
	}
	if beneficiaryID != "" {
		record.BeneficiaryID = &beneficiaryID
	}
	if beneficiaryName != "" {
		record.BeneficiaryName = &beneficiaryName
	}
	if req.Description != "" {
		record.Description = &req.Description
	}
	if eval.Safe {
		completed := a.now().UTC()
		record.CompletedAt = &completed
	}

	inserted, err := a.transactions.InsertTransaction(ctx, record)
	if err != nil {
		return storage.Transaction{}, fmt.Errorf("persist transfer: %w", err)
	}
	return inserted, nil
}

// appendFraudEvent records a flagged transfer in the append-only fraud
// event log, which is what the prior-flag signal reads on later transfers.
func (a *Authorizer) appendFraudEvent(ctx context.Context, req Request, eval fraud.Evaluation, transactionID, beneficiaryID string) {
	if a.events == nil {
		return
	}

	details := map[string]interface{}{
		"transaction_id": transactionID,
		"flags":          eval.Flags,
	}
	if beneficiaryID != "" {
		details["beneficiary_id"] = beneficiaryID
	}
	blob, err := json.Marshal(details)
	if err != nil {
		a.logger.Error().Err(err).Msg("marshal fraud event details")
		return
	}

	event := storage.FraudEvent{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		EventType:   "flagged_transfer",
		Details:     blob,
		RiskScore:   eval.RiskScore,
		ActionTaken: "flagged",
	}
	if err := a.events.InsertFraudEvent(ctx, event); err != nil {
		a.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to append fraud event")
	}
}

func (a *Authorizer) appendAudit(ctx context.Context, req Request, eval fraud.Evaluation, transactionID, status string) {
	if a.audit == nil {
		return
	}

	details, err := json.Marshal(eval.Wire())
	if err != nil {
		a.logger.Error().Err(err).Msg("marshal audit details")
		return
	}

	entry := storage.AuditEntry{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		ActionType:   "transfer",
		ResourceType: "transaction",
		ResourceID:   transactionID,
		InitiatedBy:  "user",
		Amount:       req.Amount,
		Status:       status,
		Details:      details,
	}
	if err := a.audit.InsertAudit(ctx, entry); err != nil {
		a.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to write audit entry")
	}
}
