package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnTengye/casedesk/lifecycle"
	"github.com/AnTengye/casedesk/model"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]string)}
}

func (f *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = string(data)
	return nil
}

func (f *fakeStorage) GetPresignedURL(_ context.Context, objectName string) (string, error) {
	return "https://files.test/" + objectName, nil
}

func (f *fakeStorage) DeleteFile(_ context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*CheckoutSession
	created  int
	err      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*CheckoutSession)}
}

func (f *fakeGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	s := &CheckoutSession{
		ID:        "cs_" + req.Reference,
		URL:       "https://pay.test/" + req.Reference,
		Status:    CheckoutOpen,
		Reference: req.Reference,
	}
	f.sessions[s.ID] = s
	c := *s
	return &c, nil
}

func (f *fakeGateway) GetCheckout(_ context.Context, sessionID string) (*CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	c := *s
	return &c, nil
}

func (f *fakeGateway) setStatus(sessionID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID].Status = status
}

var (
	strategist = model.Principal{UserID: "s1", Role: model.RoleStrategist}
	client     = model.Principal{UserID: "c1", Role: model.RoleClient}
	reviewer   = model.Principal{UserID: "r1", Role: model.RoleCompliance}
)

type workflowFixture struct {
	wf       *WorkflowService
	repo     *MemoryStore
	storage  *fakeStorage
	gateway  *fakeGateway
	flags    *MemoryFlagStore
	details  *ClientDetailService
	sequence int
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		repo:    NewMemoryStore(0),
		storage: newFakeStorage(),
		gateway: newFakeGateway(),
		flags:   NewMemoryFlagStore(time.Hour),
	}
	f.wf = NewWorkflowService(f.repo, f.storage, f.gateway, f.flags, "usd")
	f.wf.newID = func() string {
		f.sequence++
		return fmt.Sprintf("id-%d", f.sequence)
	}
	f.details = NewClientDetailService(f.repo)
	return f
}

func (f *workflowFixture) status(t *testing.T) lifecycle.Result {
	t.Helper()
	detail, err := f.details.Load(context.Background(), strategist, client.UserID)
	require.NoError(t, err)
	require.Empty(t, detail.Errors)
	return detail.Status
}

func (f *workflowFixture) create(t *testing.T) *model.Agreement {
	t.Helper()
	a, err := f.wf.CreateAgreement(context.Background(), strategist, CreateAgreementInput{
		ClientID: client.UserID,
		Title:    "Tax planning 2026",
		Price:    decimal.RequireFromString("1500.00"),
	})
	require.NoError(t, err)
	return a
}

// paid drives a new agreement through signature and payment
func (f *workflowFixture) paid(t *testing.T) *model.Agreement {
	t.Helper()
	ctx := context.Background()
	a := f.create(t)
	_, err := f.wf.SendAgreement(ctx, strategist, a.ID)
	require.NoError(t, err)
	_, err = f.wf.SignAgreement(ctx, client, a.ID, "Casey Client")
	require.NoError(t, err)
	charge, err := f.wf.RequestPayment(ctx, strategist, a.ID)
	require.NoError(t, err)
	_, err = f.wf.MarkChargePaid(ctx, charge.ID)
	require.NoError(t, err)
	return a
}

func upload(name string) UploadInput {
	return UploadInput{Name: name, ContentType: "application/pdf", Size: 4, Reader: strings.NewReader("%PDF")}
}

func TestWorkflowFullLifecycle(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	a := f.create(t)
	assert.Equal(t, model.AgreementDraft, a.Status)
	assert.Equal(t, "USD", a.Currency)
	assert.Equal(t, strategist.UserID, a.StrategistID)

	st := f.status(t)
	assert.Equal(t, lifecycle.StatusAwaitingAgreement, st.StatusKey)
	assert.False(t, st.Progress[0].Sent)

	a, err := f.wf.SendAgreement(ctx, strategist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementPendingSignature, a.Status)
	assert.NotEmpty(t, a.Metadata.EnvelopeID)
	st = f.status(t)
	assert.Equal(t, lifecycle.StatusAwaitingAgreement, st.StatusKey)
	assert.True(t, st.Progress[0].Sent)

	a, err = f.wf.SignAgreement(ctx, client, a.ID, "Casey Client")
	require.NoError(t, err)
	assert.Equal(t, model.AgreementPendingPayment, a.Status)
	st = f.status(t)
	assert.Equal(t, lifecycle.StatusAwaitingPayment, st.StatusKey)
	assert.True(t, st.Progress[0].Complete)
	assert.True(t, st.Progress[1].Sent)

	charge, err := f.wf.RequestPayment(ctx, strategist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargePending, charge.Status)
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("1500")))
	assert.NotEmpty(t, charge.PaymentLink)

	again, err := f.wf.RequestPayment(ctx, strategist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.ID, again.ID)
	assert.Equal(t, 1, f.gateway.created)

	flags, _ := f.flags.All(ctx, client.UserID)
	assert.Equal(t, charge.ID, flags[FlagPaymentInitiated])

	_, err = f.wf.MarkChargePaid(ctx, charge.ID)
	require.NoError(t, err)
	a, _ = f.repo.GetAgreement(ctx, a.ID)
	assert.Equal(t, model.AgreementPendingTodosCompletion, a.Status)
	flags, _ = f.flags.All(ctx, client.UserID)
	assert.NotContains(t, flags, FlagPaymentInitiated)

	// nothing requested yet, so the document gate is open
	assert.Equal(t, lifecycle.StatusReadyForStrategy, f.status(t).StatusKey)

	todos, err := f.wf.RequestDocuments(ctx, strategist, a.ID, []DocumentRequest{
		{Title: "W-2", Category: "income"},
		{Title: "1099", Category: "income"},
	})
	require.NoError(t, err)
	require.Len(t, todos, 2)
	st = f.status(t)
	assert.Equal(t, lifecycle.StatusAwaitingDocuments, st.StatusKey)
	assert.True(t, st.Progress[2].Sent)
	assert.False(t, st.Progress[3].Sent)

	in := upload("w2.pdf")
	in.TodoID = todos[0].ID
	doc1, err := f.wf.UploadDocument(ctx, client, a.ID, in)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentPending, doc1.AcceptanceStatus)
	assert.Equal(t, "income", doc1.Category)
	assert.Contains(t, f.storage.objects, doc1.ObjectKey)

	in = upload("1099.pdf")
	in.TodoID = todos[1].ID
	doc2, err := f.wf.UploadDocument(ctx, client, a.ID, in)
	require.NoError(t, err)

	detail, err := f.details.Load(ctx, client, client.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Inputs.UploadedDocCount)
	assert.Equal(t, 0, detail.Inputs.AcceptedDocCount)
	assert.True(t, detail.Status.Progress[2].Complete)
	assert.Equal(t, lifecycle.StatusAwaitingDocuments, detail.Status.StatusKey)

	_, err = f.wf.ReviewDocument(ctx, strategist, doc1.ID, false, "blurry scan")
	require.NoError(t, err)
	reopened, _ := f.repo.GetTodo(ctx, todos[0].ID)
	assert.Equal(t, model.TodoPending, reopened.Status)
	detail, _ = f.details.Load(ctx, strategist, client.UserID)
	assert.Equal(t, 1, detail.Inputs.UploadedDocCount)

	in = upload("w2-clear.pdf")
	in.TodoID = todos[0].ID
	doc1, err = f.wf.UploadDocument(ctx, client, a.ID, in)
	require.NoError(t, err)

	_, err = f.wf.ReviewDocument(ctx, strategist, doc1.ID, true, "")
	require.NoError(t, err)
	a, _ = f.repo.GetAgreement(ctx, a.ID)
	assert.Equal(t, model.AgreementPendingTodosCompletion, a.Status)

	_, err = f.wf.ReviewDocument(ctx, strategist, doc2.ID, true, "")
	require.NoError(t, err)
	a, _ = f.repo.GetAgreement(ctx, a.ID)
	assert.Equal(t, model.AgreementPendingStrategy, a.Status)
	st = f.status(t)
	assert.Equal(t, lifecycle.StatusReadyForStrategy, st.StatusKey)
	assert.True(t, st.Progress[3].Complete)

	strategy, err := f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("strategy.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, strategy.Revision)
	assert.Equal(t, lifecycle.StatusAwaitingCompliance, f.status(t).StatusKey)

	_, err = f.wf.ReviewStrategy(ctx, reviewer, a.ID, false, "missing state filing")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusReadyForStrategy, f.status(t).StatusKey)

	strategy, err = f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("strategy-v2.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 2, strategy.Revision)

	_, err = f.wf.ReviewStrategy(ctx, reviewer, a.ID, true, "")
	require.NoError(t, err)
	st = f.status(t)
	assert.Equal(t, lifecycle.StatusAwaitingApproval, st.StatusKey)
	assert.Equal(t, lifecycle.PhaseComplianceApproved, st.Step5.Phase)
	assert.False(t, st.Progress[4].Sent)

	_, err = f.wf.StrategyURL(ctx, client, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	a, err = f.wf.SendStrategy(ctx, strategist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementPendingStrategyReview, a.Status)
	st = f.status(t)
	assert.Equal(t, lifecycle.StatusAwaitingApproval, st.StatusKey)
	assert.Equal(t, lifecycle.PhaseClientReview, st.Step5.Phase)
	assert.True(t, st.Progress[4].Sent)

	link, err := f.wf.StrategyURL(ctx, client, a.ID)
	require.NoError(t, err)
	assert.Contains(t, link, strategy.ID)

	a, err = f.wf.DecideStrategy(ctx, client, a.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, model.AgreementCompleted, a.Status)
	st = f.status(t)
	assert.Equal(t, lifecycle.StatusActive, st.StatusKey)
	for i, step := range st.Progress {
		assert.True(t, step.Complete, "step %d", i+1)
	}
}

func TestWorkflowRoleChecks(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	_, err := f.wf.CreateAgreement(ctx, client, CreateAgreementInput{ClientID: "c1", Title: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	a := f.create(t)

	_, err = f.wf.SendAgreement(ctx, client, a.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	other := model.Principal{UserID: "s2", Role: model.RoleStrategist}
	_, err = f.wf.SendAgreement(ctx, other, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	stranger := model.Principal{UserID: "c2", Role: model.RoleClient}
	_, err = f.wf.GetAgreement(ctx, stranger, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.wf.GetAgreement(ctx, reviewer, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.wf.ListAgreements(ctx, model.Principal{UserID: "x", Role: "admin"})
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := f.wf.ListAgreements(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWorkflowValidation(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	_, err := f.wf.CreateAgreement(ctx, strategist, CreateAgreementInput{ClientID: "c1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.wf.CreateAgreement(ctx, strategist, CreateAgreementInput{
		ClientID: "c1", Title: "x", Price: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, ErrValidation)

	free, err := f.wf.CreateAgreement(ctx, strategist, CreateAgreementInput{ClientID: "c1", Title: "free"})
	require.NoError(t, err)
	_, err = f.wf.SendAgreement(ctx, strategist, free.ID)
	require.NoError(t, err)
	_, err = f.wf.SignAgreement(ctx, client, free.ID, "")
	require.NoError(t, err)
	_, err = f.wf.RequestPayment(ctx, strategist, free.ID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.wf.RequestDocuments(ctx, strategist, free.ID, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWorkflowInvalidTransitions(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.create(t)

	_, err := f.wf.SignAgreement(ctx, client, a.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.wf.RequestPayment(ctx, strategist, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s.pdf"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.wf.SendAgreement(ctx, strategist, a.ID)
	require.NoError(t, err)
	_, err = f.wf.SendAgreement(ctx, strategist, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWorkflowPaymentFailure(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.create(t)
	f.wf.SendAgreement(ctx, strategist, a.ID)
	f.wf.SignAgreement(ctx, client, a.ID, "")

	f.gateway.err = errors.New("provider down")
	_, err := f.wf.RequestPayment(ctx, strategist, a.ID)
	require.Error(t, err)

	charges, _ := f.repo.ListCharges(ctx, a.ID)
	assert.Empty(t, charges)
}

func TestMarkChargePaidIsIdempotent(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	charges, _ := f.repo.ListCharges(ctx, a.ID)
	require.Len(t, charges, 1)
	first := charges[0]

	again, err := f.wf.MarkChargePaid(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargePaid, again.Status)
	assert.Equal(t, first.PaidAt.UnixNano(), again.PaidAt.UnixNano())

	expired, err := f.wf.MarkChargeExpired(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargePaid, expired.Status)

	todos, _ := f.repo.ListTodos(ctx, a.ID)
	for _, todo := range todos {
		assert.Equal(t, model.TodoCompleted, todo.Status, todo.Kind)
	}
}

func TestStartCheckout(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.create(t)
	f.wf.SendAgreement(ctx, strategist, a.ID)
	f.wf.SignAgreement(ctx, client, a.ID, "")
	charge, err := f.wf.RequestPayment(ctx, strategist, a.ID)
	require.NoError(t, err)

	_, err = f.wf.StartCheckout(ctx, strategist, charge.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := f.wf.StartCheckout(ctx, client, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.PaymentLink, got.PaymentLink)

	f.wf.MarkChargeExpired(ctx, charge.ID)
	_, err = f.wf.StartCheckout(ctx, client, charge.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// an expired charge can be replaced
	next, err := f.wf.RequestPayment(ctx, strategist, a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, charge.ID, next.ID)
}

func TestClientDeclineReturnsToStrategist(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	_, err := f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s.pdf"))
	require.NoError(t, err)

	_, err = f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s2.pdf"))
	assert.ErrorIs(t, err, ErrInvalidTransition, "resubmission while under review")

	_, err = f.wf.SendStrategy(ctx, strategist, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "send before compliance approval")

	_, err = f.wf.ReviewStrategy(ctx, reviewer, a.ID, true, "")
	require.NoError(t, err)
	_, err = f.wf.SendStrategy(ctx, strategist, a.ID)
	require.NoError(t, err)

	a, err = f.wf.DecideStrategy(ctx, client, a.ID, false, "too aggressive")
	require.NoError(t, err)
	assert.Equal(t, model.AgreementPendingStrategy, a.Status)

	st := f.status(t)
	assert.Equal(t, lifecycle.StatusReadyForStrategy, st.StatusKey)
	assert.Equal(t, lifecycle.PhaseClientDeclined, st.Step5.Phase)

	next, err := f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s3.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Revision)
}

func TestRequestDocumentsReopensDocumentPhase(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	// no documents requested, strategy phase is reachable directly
	_, err := f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s.pdf"))
	require.NoError(t, err)
	a, _ = f.repo.GetAgreement(ctx, a.ID)
	require.Equal(t, model.AgreementPendingStrategy, a.Status)

	_, err = f.wf.RequestDocuments(ctx, strategist, a.ID, []DocumentRequest{{Title: "Passport"}})
	require.NoError(t, err)
	a, _ = f.repo.GetAgreement(ctx, a.ID)
	assert.Equal(t, model.AgreementPendingTodosCompletion, a.Status)
	assert.Equal(t, lifecycle.StatusAwaitingDocuments, f.status(t).StatusKey)
}

func TestUploadDocumentRules(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	todos, err := f.wf.RequestDocuments(ctx, strategist, a.ID, []DocumentRequest{{Title: "ID"}})
	require.NoError(t, err)

	signTodo := ""
	all, _ := f.repo.ListTodos(ctx, a.ID)
	for _, todo := range all {
		if todo.Kind == model.TodoSign {
			signTodo = todo.ID
		}
	}
	in := upload("id.pdf")
	in.TodoID = signTodo
	_, err = f.wf.UploadDocument(ctx, client, a.ID, in)
	assert.ErrorIs(t, err, ErrValidation)

	in.TodoID = todos[0].ID
	f.storage.err = errors.New("bucket gone")
	_, err = f.wf.UploadDocument(ctx, client, a.ID, in)
	require.Error(t, err)
	pending, _ := f.repo.GetTodo(ctx, todos[0].ID)
	assert.Equal(t, model.TodoPending, pending.Status)

	f.storage.err = nil
	doc, err := f.wf.UploadDocument(ctx, client, a.ID, upload("id.pdf"))
	assert.ErrorIs(t, err, ErrNotFound, "missing todo")
	assert.Nil(t, doc)

	in = upload("id.pdf")
	in.TodoID = todos[0].ID
	doc, err = f.wf.UploadDocument(ctx, client, a.ID, in)
	require.NoError(t, err)
	_, err = f.wf.UploadDocument(ctx, client, a.ID, in)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.wf.ReviewDocument(ctx, strategist, doc.ID, true, "")
	require.NoError(t, err)
	_, err = f.wf.ReviewDocument(ctx, strategist, doc.ID, false, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	link, err := f.wf.DocumentURL(ctx, client, doc.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://files.test/"+a.ID+"/"))
}

func TestCancelAgreement(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.create(t)
	a, _ = f.wf.SendAgreement(ctx, strategist, a.ID)

	a, err := f.wf.CancelAgreement(ctx, strategist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementCancelled, a.Status)

	envelope, _ := f.repo.GetEnvelope(ctx, a.Metadata.EnvelopeID)
	assert.Equal(t, model.EnvelopeVoided, envelope.Status)

	_, err = f.wf.CancelAgreement(ctx, strategist, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// cancelled agreements read as not signed
	assert.Equal(t, lifecycle.StatusAwaitingAgreement, f.status(t).StatusKey)
}

func TestLegacyMetadataFallback(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	strategy, err := f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s.pdf"))
	require.NoError(t, err)

	// rewrite the record the way older rows stored it
	a, _ = f.repo.GetAgreement(ctx, a.ID)
	a.Description = lifecycle.EmbedLegacyMetadata("Annual plan", a.Metadata)
	a.Metadata = model.AgreementMetadata{}
	require.NoError(t, f.repo.SaveAgreement(ctx, a))

	detail, err := f.details.Load(ctx, reviewer, client.UserID)
	require.NoError(t, err)
	assert.Equal(t, strategy.ID, detail.Metadata.StrategyDocumentID)
	assert.Equal(t, lifecycle.StatusAwaitingCompliance, detail.Status.StatusKey)
	assert.Equal(t, "Annual plan", detail.Agreement.Description)

	_, err = f.wf.ReviewStrategy(ctx, reviewer, a.ID, true, "")
	require.NoError(t, err)
}

func TestExportLegacy(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	record, err := f.wf.ExportLegacy(ctx, client, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementPendingTodosCompletion, record.Status)
	assert.True(t, strings.HasPrefix(record.Description, lifecycle.MetadataMarker))

	meta, ok := lifecycle.ParseLegacyMetadata(record.Description)
	require.True(t, ok)
	assert.NotEmpty(t, meta.EnvelopeID)

	_, err = f.wf.ExportLegacy(ctx, model.Principal{UserID: "c2", Role: model.RoleClient}, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkflowUploadRemovesObjectWhenSaveFails(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	todos, err := f.wf.RequestDocuments(ctx, strategist, a.ID, []DocumentRequest{{Title: "W-2"}})
	require.NoError(t, err)

	broken := NewWorkflowService(&failingRepository{Repository: f.repo, saveDocument: true}, f.storage, f.gateway, f.flags, "usd")
	in := upload("w2.pdf")
	in.TodoID = todos[0].ID
	_, err = broken.UploadDocument(ctx, client, a.ID, in)
	require.ErrorIs(t, err, errBackend)

	assert.Empty(t, f.storage.objects)
	todo, err := f.repo.GetTodo(ctx, todos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.TodoPending, todo.Status)
}

// brokenWorkflow shares the fixture's store and storage but fails the
// selected writes
func (f *workflowFixture) brokenWorkflow(repo *failingRepository) *WorkflowService {
	repo.Repository = f.repo
	return NewWorkflowService(repo, f.storage, f.gateway, f.flags, "usd")
}

func TestWorkflowSubmitStrategyRemovesObjectWhenSaveFails(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)

	_, err := f.brokenWorkflow(&failingRepository{saveStrategy: true}).SubmitStrategy(ctx, strategist, a.ID, upload("s.pdf"))
	require.ErrorIs(t, err, errBackend)
	assert.Empty(t, f.storage.objects)
}

func TestWorkflowFailedReviewsKeepStoredFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("document review", func(t *testing.T) {
		f := newWorkflowFixture(t)
		a := f.paid(t)
		todos, err := f.wf.RequestDocuments(ctx, strategist, a.ID, []DocumentRequest{{Title: "W-2"}})
		require.NoError(t, err)
		in := upload("w2.pdf")
		in.TodoID = todos[0].ID
		doc, err := f.wf.UploadDocument(ctx, client, a.ID, in)
		require.NoError(t, err)

		_, err = f.brokenWorkflow(&failingRepository{saveDocument: true}).ReviewDocument(ctx, strategist, doc.ID, false, "blurry")
		require.ErrorIs(t, err, errBackend)

		assert.Contains(t, f.storage.objects, doc.ObjectKey)
		stored, err := f.repo.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DocumentPending, stored.AcceptanceStatus)
	})

	t.Run("compliance review", func(t *testing.T) {
		f := newWorkflowFixture(t)
		a := f.paid(t)
		strategy, err := f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s.pdf"))
		require.NoError(t, err)

		_, err = f.brokenWorkflow(&failingRepository{saveStrategy: true}).ReviewStrategy(ctx, reviewer, a.ID, false, "missing schedule")
		require.ErrorIs(t, err, errBackend)
		assert.Contains(t, f.storage.objects, strategy.ObjectKey)
	})

	t.Run("client decision", func(t *testing.T) {
		f := newWorkflowFixture(t)
		a := f.paid(t)
		strategy, err := f.wf.SubmitStrategy(ctx, strategist, a.ID, upload("s.pdf"))
		require.NoError(t, err)
		_, err = f.wf.ReviewStrategy(ctx, reviewer, a.ID, true, "")
		require.NoError(t, err)
		_, err = f.wf.SendStrategy(ctx, strategist, a.ID)
		require.NoError(t, err)

		_, err = f.brokenWorkflow(&failingRepository{saveStrategy: true}).DecideStrategy(ctx, client, a.ID, true, "")
		require.ErrorIs(t, err, errBackend)
		assert.Contains(t, f.storage.objects, strategy.ObjectKey)

		stored, err := f.repo.GetAgreement(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AgreementPendingStrategyReview, stored.Status)
	})
}
