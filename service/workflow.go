package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AnTengye/casedesk/lifecycle"
	"github.com/AnTengye/casedesk/model"
	"github.com/AnTengye/casedesk/pkg/logger"
)

// WorkflowService runs the onboarding transitions of an agreement
type WorkflowService struct {
	repo     Repository
	storage  DocumentStorage
	payments PaymentGateway
	flags    FlagStore
	currency string
	now      func() time.Time
	newID    func() string
}

func NewWorkflowService(repo Repository, storage DocumentStorage, payments PaymentGateway, flags FlagStore, currency string) *WorkflowService {
	if currency == "" {
		currency = "USD"
	}
	return &WorkflowService{
		repo:     repo,
		storage:  storage,
		payments: payments,
		flags:    flags,
		currency: currency,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// CreateAgreementInput describes a new agreement
type CreateAgreementInput struct {
	ClientID    string          `json:"client_id" binding:"required"`
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
}

// DocumentRequest is one document the strategist asks the client for
type DocumentRequest struct {
	Title    string `json:"title" binding:"required"`
	Category string `json:"category"`
}

// UploadInput is a file handed to the workflow
type UploadInput struct {
	TodoID      string
	Name        string
	Category    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

func requireRole(p model.Principal, roles ...string) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return fmt.Errorf("role %q: %w", p.Role, ErrForbidden)
}

// canAccess hides agreements the caller is not a party to
func canAccess(p model.Principal, a *model.Agreement) bool {
	switch p.Role {
	case model.RoleCompliance:
		return true
	case model.RoleStrategist:
		return a.StrategistID == p.UserID
	case model.RoleClient:
		return a.ClientID == p.UserID
	default:
		return false
	}
}

func invalid(a *model.Agreement, op string) error {
	return fmt.Errorf("cannot %s agreement %s in status %s: %w", op, a.ID, a.Status, ErrInvalidTransition)
}

func (s *WorkflowService) loadAgreement(ctx context.Context, p model.Principal, id string) (*model.Agreement, error) {
	a, err := s.repo.GetAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(p, a) {
		return nil, fmt.Errorf("agreement %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *WorkflowService) setStatus(ctx context.Context, a *model.Agreement, status model.AgreementStatus) error {
	from := a.Status
	a.Status = status
	if err := s.repo.SaveAgreement(ctx, a); err != nil {
		return fmt.Errorf("failed to save agreement: %w", err)
	}
	logger.Info(ctx, "agreement status changed", "agreement_id", a.ID, "from", from, "to", status)
	return nil
}

// GetAgreement returns an agreement visible to the caller
func (s *WorkflowService) GetAgreement(ctx context.Context, p model.Principal, id string) (*model.Agreement, error) {
	return s.loadAgreement(ctx, p, id)
}

// LegacyAgreement is the record shape older consumers read: metadata rides
// in the description behind lifecycle.MetadataMarker
type LegacyAgreement struct {
	ID          string                `json:"id"`
	Status      model.AgreementStatus `json:"status"`
	Description string                `json:"description"`
}

// ExportLegacy renders an agreement in the legacy record shape
func (s *WorkflowService) ExportLegacy(ctx context.Context, p model.Principal, id string) (*LegacyAgreement, error) {
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return &LegacyAgreement{
		ID:          a.ID,
		Status:      a.Status,
		Description: lifecycle.EmbedLegacyMetadata(a.Description, lifecycle.EffectiveMetadata(a)),
	}, nil
}

// ListAgreements returns the agreements visible to the caller
func (s *WorkflowService) ListAgreements(ctx context.Context, p model.Principal) ([]*model.Agreement, error) {
	var filter AgreementFilter
	switch p.Role {
	case model.RoleClient:
		filter.ClientID = p.UserID
	case model.RoleStrategist:
		filter.StrategistID = p.UserID
	case model.RoleCompliance:
	default:
		return nil, fmt.Errorf("role %q: %w", p.Role, ErrForbidden)
	}
	return s.repo.ListAgreements(ctx, filter)
}

// CreateAgreement drafts a new agreement owned by the calling strategist
func (s *WorkflowService) CreateAgreement(ctx context.Context, p model.Principal, in CreateAgreementInput) (*model.Agreement, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ClientID) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("client and title are required: %w", ErrValidation)
	}
	if in.Price.IsNegative() {
		return nil, fmt.Errorf("price must not be negative: %w", ErrValidation)
	}

	currency := in.Currency
	if currency == "" {
		currency = s.currency
	}

	a := &model.Agreement{
		ID:           s.newID(),
		ClientID:     in.ClientID,
		StrategistID: p.UserID,
		Title:        in.Title,
		Description:  in.Description,
		Price:        in.Price,
		Currency:     strings.ToUpper(currency),
		Status:       model.AgreementDraft,
	}
	if err := s.repo.SaveAgreement(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save agreement: %w", err)
	}

	logger.Info(ctx, "agreement created", "agreement_id", a.ID, "client_id", a.ClientID)
	return a, nil
}

// SendAgreement sends a draft to the client for signature
func (s *WorkflowService) SendAgreement(ctx context.Context, p model.Principal, id string) (*model.Agreement, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AgreementDraft {
		return nil, invalid(a, "send")
	}

	envelope := &model.Envelope{
		ID:          s.newID(),
		AgreementID: a.ID,
		Status:      model.EnvelopeSent,
	}
	if err := s.repo.SaveEnvelope(ctx, envelope); err != nil {
		return nil, fmt.Errorf("failed to save envelope: %w", err)
	}

	todo := &model.Todo{
		ID:          s.newID(),
		AgreementID: a.ID,
		Kind:        model.TodoSign,
		Title:       "Sign " + a.Title,
		Status:      model.TodoPending,
	}
	if err := s.repo.SaveTodo(ctx, todo); err != nil {
		return nil, fmt.Errorf("failed to save todo: %w", err)
	}

	a.Metadata.EnvelopeID = envelope.ID
	if err := s.setStatus(ctx, a, model.AgreementPendingSignature); err != nil {
		return nil, err
	}
	return a, nil
}

// SignAgreement records the client's signature
func (s *WorkflowService) SignAgreement(ctx context.Context, p model.Principal, id, signerName string) (*model.Agreement, error) {
	if err := requireRole(p, model.RoleClient); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AgreementPendingSignature {
		return nil, invalid(a, "sign")
	}

	if a.Metadata.EnvelopeID != "" {
		envelope, err := s.repo.GetEnvelope(ctx, a.Metadata.EnvelopeID)
		if err != nil {
			return nil, err
		}
		signedAt := s.now()
		envelope.Status = model.EnvelopeCompleted
		envelope.SignerName = signerName
		envelope.SignedAt = &signedAt
		if err := s.repo.SaveEnvelope(ctx, envelope); err != nil {
			return nil, fmt.Errorf("failed to save envelope: %w", err)
		}
	}

	if err := s.completeTodos(ctx, a.ID, model.TodoSign); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, a, model.AgreementPendingPayment); err != nil {
		return nil, err
	}
	s.setFlag(ctx, a.ClientID, FlagAgreementSigned, a.ID)
	return a, nil
}

func (s *WorkflowService) completeTodos(ctx context.Context, agreementID string, kind model.TodoKind) error {
	todos, err := s.repo.ListTodos(ctx, agreementID)
	if err != nil {
		return err
	}
	for _, t := range todos {
		if t.Kind != kind || t.Status == model.TodoCompleted {
			continue
		}
		t.Status = model.TodoCompleted
		if err := s.repo.SaveTodo(ctx, t); err != nil {
			return fmt.Errorf("failed to save todo: %w", err)
		}
	}
	return nil
}

func (s *WorkflowService) setFlag(ctx context.Context, userID, flag, value string) {
	if s.flags == nil {
		return
	}
	if err := s.flags.Set(ctx, userID, flag, value); err != nil {
		logger.Warn(ctx, "failed to set onboarding flag", "flag", flag, "error", err)
	}
}

func (s *WorkflowService) clearFlag(ctx context.Context, userID, flag string) {
	if s.flags == nil {
		return
	}
	if err := s.flags.Clear(ctx, userID, flag); err != nil {
		logger.Warn(ctx, "failed to clear onboarding flag", "flag", flag, "error", err)
	}
}

// RequestPayment creates the charge for a signed agreement. An open charge
// is returned as is.
func (s *WorkflowService) RequestPayment(ctx context.Context, p model.Principal, id string) (*model.Charge, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AgreementPendingPayment {
		return nil, invalid(a, "request payment for")
	}
	if !a.Price.IsPositive() {
		return nil, fmt.Errorf("agreement %s has no price: %w", a.ID, ErrValidation)
	}

	charges, err := s.repo.ListCharges(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range charges {
		switch c.Status {
		case model.ChargePending:
			return c, nil
		case model.ChargePaid:
			return nil, invalid(a, "charge already paid")
		}
	}

	charge := &model.Charge{
		ID:          s.newID(),
		AgreementID: a.ID,
		Amount:      a.Price,
		Currency:    a.Currency,
		Status:      model.ChargePending,
	}

	session, err := s.payments.CreateCheckout(ctx, CheckoutRequest{
		Reference:   charge.ID,
		Amount:      charge.Amount,
		Currency:    charge.Currency,
		Description: a.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}
	charge.CheckoutSessionID = session.ID
	charge.PaymentLink = session.URL

	if err := s.repo.SaveCharge(ctx, charge); err != nil {
		return nil, fmt.Errorf("failed to save charge: %w", err)
	}

	todo := &model.Todo{
		ID:          s.newID(),
		AgreementID: a.ID,
		Kind:        model.TodoPay,
		Title:       fmt.Sprintf("Pay %s %s", charge.Amount.StringFixed(2), charge.Currency),
		Status:      model.TodoPending,
	}
	if err := s.repo.SaveTodo(ctx, todo); err != nil {
		return nil, fmt.Errorf("failed to save todo: %w", err)
	}

	s.setFlag(ctx, a.ClientID, FlagPaymentInitiated, charge.ID)

	logger.Info(ctx, "payment requested", "agreement_id", a.ID, "charge_id", charge.ID, "amount", charge.Amount.String())
	return charge, nil
}

// GetCharge returns a charge of an agreement visible to the caller
func (s *WorkflowService) GetCharge(ctx context.Context, p model.Principal, chargeID string) (*model.Charge, error) {
	c, err := s.repo.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadAgreement(ctx, p, c.AgreementID); err != nil {
		return nil, err
	}
	return c, nil
}

// StartCheckout hands the payment link to the client and remembers that
// payment was initiated
func (s *WorkflowService) StartCheckout(ctx context.Context, p model.Principal, chargeID string) (*model.Charge, error) {
	if err := requireRole(p, model.RoleClient); err != nil {
		return nil, err
	}
	c, err := s.GetCharge(ctx, p, chargeID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ChargePending {
		return nil, fmt.Errorf("charge %s is %s: %w", c.ID, c.Status, ErrInvalidTransition)
	}
	s.setFlag(ctx, p.UserID, FlagPaymentInitiated, c.ID)
	return c, nil
}

// MarkChargePaid settles a charge and advances its agreement. Settling a
// paid charge again is a no-op.
func (s *WorkflowService) MarkChargePaid(ctx context.Context, chargeID string) (*model.Charge, error) {
	c, err := s.repo.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.ChargePaid {
		return c, nil
	}

	paidAt := s.now()
	c.Status = model.ChargePaid
	c.PaidAt = &paidAt
	if err := s.repo.SaveCharge(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save charge: %w", err)
	}

	a, err := s.repo.GetAgreement(ctx, c.AgreementID)
	if err != nil {
		return nil, err
	}
	if err := s.completeTodos(ctx, a.ID, model.TodoPay); err != nil {
		return nil, err
	}
	if a.Status == model.AgreementPendingPayment {
		if err := s.setStatus(ctx, a, model.AgreementPendingTodosCompletion); err != nil {
			return nil, err
		}
	}
	s.clearFlag(ctx, a.ClientID, FlagPaymentInitiated)

	logger.Info(ctx, "charge paid", "agreement_id", a.ID, "charge_id", c.ID)
	return c, nil
}

// MarkChargeExpired closes a checkout the client never completed
func (s *WorkflowService) MarkChargeExpired(ctx context.Context, chargeID string) (*model.Charge, error) {
	c, err := s.repo.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ChargePending {
		return c, nil
	}
	c.Status = model.ChargeExpired
	if err := s.repo.SaveCharge(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save charge: %w", err)
	}

	if a, err := s.repo.GetAgreement(ctx, c.AgreementID); err == nil {
		s.clearFlag(ctx, a.ClientID, FlagPaymentInitiated)
	}
	logger.Info(ctx, "charge expired", "charge_id", c.ID)
	return c, nil
}

// RequestDocuments asks the client for documents
func (s *WorkflowService) RequestDocuments(ctx context.Context, p model.Principal, id string, requests []DocumentRequest) ([]*model.Todo, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("at least one document is required: %w", ErrValidation)
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case model.AgreementPendingPayment, model.AgreementPendingTodosCompletion, model.AgreementPendingStrategy:
	default:
		return nil, invalid(a, "request documents for")
	}

	todos := make([]*model.Todo, 0, len(requests))
	for _, r := range requests {
		if strings.TrimSpace(r.Title) == "" {
			return nil, fmt.Errorf("document title is required: %w", ErrValidation)
		}
		todo := &model.Todo{
			ID:          s.newID(),
			AgreementID: a.ID,
			Kind:        model.TodoUploadDocument,
			Title:       r.Title,
			Category:    r.Category,
			Status:      model.TodoPending,
		}
		if err := s.repo.SaveTodo(ctx, todo); err != nil {
			return nil, fmt.Errorf("failed to save todo: %w", err)
		}
		todos = append(todos, todo)
	}

	// new requests reopen the document phase
	if a.Status == model.AgreementPendingStrategy {
		if err := s.setStatus(ctx, a, model.AgreementPendingTodosCompletion); err != nil {
			return nil, err
		}
	}

	logger.Info(ctx, "documents requested", "agreement_id", a.ID, "count", len(todos))
	return todos, nil
}

// UploadDocument stores a client document against an upload todo
func (s *WorkflowService) UploadDocument(ctx context.Context, p model.Principal, id string, in UploadInput) (*model.Document, error) {
	if err := requireRole(p, model.RoleClient); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() || !a.Status.AtLeast(model.AgreementPendingPayment) {
		return nil, invalid(a, "upload documents to")
	}

	todo, err := s.repo.GetTodo(ctx, in.TodoID)
	if err != nil {
		return nil, err
	}
	if todo.AgreementID != a.ID || todo.Kind != model.TodoUploadDocument {
		return nil, fmt.Errorf("todo %s does not request a document: %w", todo.ID, ErrValidation)
	}
	if todo.Status == model.TodoCompleted {
		return nil, fmt.Errorf("todo %s already fulfilled: %w", todo.ID, ErrInvalidTransition)
	}

	category := in.Category
	if category == "" {
		category = todo.Category
	}
	doc := &model.Document{
		ID:               s.newID(),
		AgreementID:      a.ID,
		TodoID:           todo.ID,
		Name:             in.Name,
		Category:         category,
		ContentType:      in.ContentType,
		Size:             in.Size,
		AcceptanceStatus: model.DocumentPending,
		UploadedBy:       p.UserID,
	}
	doc.ObjectKey = ObjectKey(a.ID, doc.ID, in.Name)

	if err := s.storage.UploadFile(ctx, doc.ObjectKey, in.Reader, in.Size, in.ContentType); err != nil {
		return nil, err
	}
	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		s.discardObject(ctx, doc.ObjectKey)
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	todo.Status = model.TodoCompleted
	todo.DocumentID = doc.ID
	if err := s.repo.SaveTodo(ctx, todo); err != nil {
		return nil, fmt.Errorf("failed to save todo: %w", err)
	}

	logger.Info(ctx, "document uploaded", "agreement_id", a.ID, "document_id", doc.ID, "size", doc.Size)
	return doc, nil
}

// discardObject removes an object whose record was never saved
func (s *WorkflowService) discardObject(ctx context.Context, key string) {
	if err := s.storage.DeleteFile(ctx, key); err != nil {
		logger.Warn(ctx, "failed to remove orphaned object", "key", key, "error", err)
	}
}

// ReviewDocument accepts or rejects an uploaded document. A rejection
// reopens the todo; accepting the last outstanding document moves the
// agreement on to the strategy phase.
func (s *WorkflowService) ReviewDocument(ctx context.Context, p model.Principal, documentID string, accept bool, reason string) (*model.Document, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, doc.AgreementID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, invalid(a, "review documents of")
	}
	if doc.AcceptanceStatus != model.DocumentPending {
		return nil, fmt.Errorf("document %s already reviewed: %w", doc.ID, ErrInvalidTransition)
	}

	if accept {
		doc.AcceptanceStatus = model.DocumentAcceptedByStrategist
		doc.RejectReason = ""
	} else {
		doc.AcceptanceStatus = model.DocumentRejectedByStrategist
		doc.RejectReason = reason
	}
	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	if !accept && doc.TodoID != "" {
		todo, err := s.repo.GetTodo(ctx, doc.TodoID)
		if err != nil {
			return nil, err
		}
		todo.Status = model.TodoPending
		todo.DocumentID = ""
		if err := s.repo.SaveTodo(ctx, todo); err != nil {
			return nil, fmt.Errorf("failed to save todo: %w", err)
		}
	}

	if err := s.advanceToStrategy(ctx, a); err != nil {
		return nil, err
	}

	logger.Info(ctx, "document reviewed", "agreement_id", a.ID, "document_id", doc.ID, "status", doc.AcceptanceStatus)
	return doc, nil
}

// documentsAccepted reports whether every upload todo has an accepted document
func (s *WorkflowService) documentsAccepted(ctx context.Context, agreementID string) (bool, error) {
	todos, err := s.repo.ListTodos(ctx, agreementID)
	if err != nil {
		return false, err
	}
	for _, t := range todos {
		if t.Kind != model.TodoUploadDocument {
			continue
		}
		if t.DocumentID == "" {
			return false, nil
		}
		doc, err := s.repo.GetDocument(ctx, t.DocumentID)
		if err != nil {
			return false, err
		}
		if doc.AcceptanceStatus != model.DocumentAcceptedByStrategist {
			return false, nil
		}
	}
	return true, nil
}

func (s *WorkflowService) advanceToStrategy(ctx context.Context, a *model.Agreement) error {
	if a.Status != model.AgreementPendingTodosCompletion {
		return nil
	}
	done, err := s.documentsAccepted(ctx, a.ID)
	if err != nil || !done {
		return err
	}
	return s.setStatus(ctx, a, model.AgreementPendingStrategy)
}

func (s *WorkflowService) currentStrategy(ctx context.Context, a *model.Agreement) (*model.StrategyDocument, error) {
	meta := lifecycle.EffectiveMetadata(a)
	if meta.StrategyDocumentID == "" {
		return nil, nil
	}
	return s.repo.GetStrategyDocument(ctx, meta.StrategyDocumentID)
}

// SubmitStrategy uploads a strategy revision for compliance review
func (s *WorkflowService) SubmitStrategy(ctx context.Context, p model.Principal, id string, in UploadInput) (*model.StrategyDocument, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.advanceToStrategy(ctx, a); err != nil {
		return nil, err
	}
	if a.Status != model.AgreementPendingStrategy {
		return nil, invalid(a, "submit a strategy for")
	}

	current, err := s.currentStrategy(ctx, a)
	if err != nil {
		return nil, err
	}
	revision := 1
	if current != nil {
		switch current.ReviewStatus {
		case model.StrategyComplianceRejected, model.StrategyClientDeclined:
			revision = current.Revision + 1
		default:
			return nil, fmt.Errorf("strategy %s is %s: %w", current.ID, current.ReviewStatus, ErrInvalidTransition)
		}
	}

	doc := &model.StrategyDocument{
		ID:           s.newID(),
		AgreementID:  a.ID,
		Name:         in.Name,
		ContentType:  in.ContentType,
		ReviewStatus: model.StrategyPendingCompliance,
		Revision:     revision,
	}
	doc.ObjectKey = ObjectKey(a.ID, doc.ID, in.Name)

	if err := s.storage.UploadFile(ctx, doc.ObjectKey, in.Reader, in.Size, in.ContentType); err != nil {
		return nil, err
	}
	if err := s.repo.SaveStrategyDocument(ctx, doc); err != nil {
		s.discardObject(ctx, doc.ObjectKey)
		return nil, fmt.Errorf("failed to save strategy document: %w", err)
	}

	a.Metadata = lifecycle.EffectiveMetadata(a)
	a.Metadata.StrategyDocumentID = doc.ID
	if err := s.repo.SaveAgreement(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save agreement: %w", err)
	}

	logger.Info(ctx, "strategy submitted", "agreement_id", a.ID, "strategy_id", doc.ID, "revision", revision)
	return doc, nil
}

// ReviewStrategy records the compliance decision on the current strategy
func (s *WorkflowService) ReviewStrategy(ctx context.Context, p model.Principal, id string, approve bool, note string) (*model.StrategyDocument, error) {
	if err := requireRole(p, model.RoleCompliance); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AgreementPendingStrategy {
		return nil, invalid(a, "review the strategy of")
	}
	doc, err := s.currentStrategy(ctx, a)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.ReviewStatus != model.StrategyPendingCompliance {
		return nil, fmt.Errorf("no strategy awaiting compliance on agreement %s: %w", a.ID, ErrInvalidTransition)
	}

	if approve {
		doc.ReviewStatus = model.StrategyComplianceApproved
	} else {
		doc.ReviewStatus = model.StrategyComplianceRejected
	}
	doc.ReviewerID = p.UserID
	doc.ReviewNote = note
	if err := s.repo.SaveStrategyDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save strategy document: %w", err)
	}

	logger.Info(ctx, "strategy reviewed", "agreement_id", a.ID, "strategy_id", doc.ID, "status", doc.ReviewStatus)
	return doc, nil
}

// SendStrategy delivers a compliance-approved strategy to the client
func (s *WorkflowService) SendStrategy(ctx context.Context, p model.Principal, id string) (*model.Agreement, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AgreementPendingStrategy {
		return nil, invalid(a, "send the strategy of")
	}
	doc, err := s.currentStrategy(ctx, a)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.ReviewStatus != model.StrategyComplianceApproved {
		return nil, fmt.Errorf("strategy not approved by compliance: %w", ErrInvalidTransition)
	}

	if err := s.setStatus(ctx, a, model.AgreementPendingStrategyReview); err != nil {
		return nil, err
	}
	return a, nil
}

// DecideStrategy records the client's answer. Accepting completes the
// agreement; declining sends it back to the strategist.
func (s *WorkflowService) DecideStrategy(ctx context.Context, p model.Principal, id string, accept bool, note string) (*model.Agreement, error) {
	if err := requireRole(p, model.RoleClient); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AgreementPendingStrategyReview {
		return nil, invalid(a, "decide on the strategy of")
	}
	doc, err := s.currentStrategy(ctx, a)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("agreement %s has no strategy: %w", a.ID, ErrInvalidTransition)
	}

	next := model.AgreementPendingStrategy
	doc.ReviewStatus = model.StrategyClientDeclined
	if accept {
		next = model.AgreementCompleted
		doc.ReviewStatus = model.StrategyClientAccepted
	}
	doc.ReviewNote = note
	if err := s.repo.SaveStrategyDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save strategy document: %w", err)
	}

	if err := s.setStatus(ctx, a, next); err != nil {
		return nil, err
	}
	return a, nil
}

// CancelAgreement cancels an agreement that is not yet completed
func (s *WorkflowService) CancelAgreement(ctx context.Context, p model.Principal, id string) (*model.Agreement, error) {
	if err := requireRole(p, model.RoleStrategist); err != nil {
		return nil, err
	}
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, invalid(a, "cancel")
	}

	if a.Metadata.EnvelopeID != "" {
		if envelope, err := s.repo.GetEnvelope(ctx, a.Metadata.EnvelopeID); err == nil && envelope.Status == model.EnvelopeSent {
			envelope.Status = model.EnvelopeVoided
			if err := s.repo.SaveEnvelope(ctx, envelope); err != nil {
				return nil, fmt.Errorf("failed to save envelope: %w", err)
			}
		}
	}

	if err := s.setStatus(ctx, a, model.AgreementCancelled); err != nil {
		return nil, err
	}
	return a, nil
}

// DocumentURL returns a download link for a client document
func (s *WorkflowService) DocumentURL(ctx context.Context, p model.Principal, documentID string) (string, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if _, err := s.loadAgreement(ctx, p, doc.AgreementID); err != nil {
		return "", err
	}
	return s.storage.GetPresignedURL(ctx, doc.ObjectKey)
}

// StrategyURL returns a download link for the current strategy. Clients
// only see it once it was sent to them.
func (s *WorkflowService) StrategyURL(ctx context.Context, p model.Principal, id string) (string, error) {
	a, err := s.loadAgreement(ctx, p, id)
	if err != nil {
		return "", err
	}
	doc, err := s.currentStrategy(ctx, a)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("strategy for agreement %s: %w", a.ID, ErrNotFound)
	}
	if p.Role == model.RoleClient && !a.Status.AtLeast(model.AgreementPendingStrategyReview) {
		return "", fmt.Errorf("strategy for agreement %s: %w", a.ID, ErrNotFound)
	}
	return s.storage.GetPresignedURL(ctx, doc.ObjectKey)
}
