package imports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/metrics"
	inats "github.com/versatiles/printops/internal/nats"
	"github.com/versatiles/printops/internal/orders"
	"github.com/versatiles/printops/internal/users"
)

const (
	completeAttempts = 3
	completeBackoff  = 100 * time.Millisecond
)

// Directory resolves a row's client or agent by id or, failing that, email.
type Directory interface {
	Resolve(ctx context.Context, id *uuid.UUID, email string) (*users.User, error)
}

// OrderCreator is the single-order creation path every row goes through.
type OrderCreator interface {
	Create(ctx context.Context, req orders.CreateRequest) (*orders.Order, error)
}

// ExistingOrders finds previously imported orders by external id.
type ExistingOrders interface {
	GetByExternalID(ctx context.Context, externalID string) (*orders.Order, error)
}

type Service struct {
	repo      Repository
	orders    OrderCreator
	existing  ExistingOrders
	directory Directory
	cfg       config.ImportsConfig
	publisher inats.EventPublisher
	now       func() time.Time
}

func NewService(repo Repository, creator OrderCreator, existing ExistingOrders, directory Directory, cfg config.ImportsConfig, publisher inats.EventPublisher) *Service {
	return &Service{
		repo:      repo,
		orders:    creator,
		existing:  existing,
		directory: directory,
		cfg:       cfg,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func requireAdmin(actor users.Actor) error {
	if !actor.IsAdmin() {
		return fault.PermissionDenied("only administrators can manage imports")
	}
	return nil
}

func notPending(imp *Import) error {
	return &fault.Error{
		Kind:    fault.KindInvalidTransition,
		Message: fmt.Sprintf("import %s is %s, not %s", imp.ID, imp.Status, StatusPendingValidation),
	}
}

// Upload stores a CSV file for review. The file is parsed and checked
// immediately so the stored row counts reflect what an approval would do.
func (s *Service) Upload(ctx context.Context, actor users.Actor, filename string, payload []byte) (*Import, *Preview, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, nil, err
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return nil, nil, fault.Validation("file must be a .csv file")
	}
	if len(payload) == 0 {
		return nil, nil, fault.Validation("file is empty")
	}
	if s.cfg.MaxFileBytes > 0 && int64(len(payload)) > s.cfg.MaxFileBytes {
		return nil, nil, fault.Validation("file exceeds %d bytes", s.cfg.MaxFileBytes)
	}

	rows, err := ParseBytes(payload, s.cfg.MaxRows)
	if err != nil {
		return nil, nil, fault.Validation("%v", err)
	}

	imp := &Import{
		ID:               uuid.New(),
		UploadedBy:       actor.ID,
		OriginalFilename: filename,
		Payload:          payload,
		Status:           StatusPendingValidation,
		UploadedAt:       s.now().UTC(),
	}
	preview, err := s.inspect(ctx, imp, rows)
	if err != nil {
		return nil, nil, err
	}
	imp.RowCount, imp.ValidRows, imp.ErrorRows = preview.TotalRows, preview.ValidRows, preview.ErrorRows

	if err := s.repo.Create(ctx, imp); err != nil {
		return nil, nil, fault.Storage("storing import", err)
	}

	actorID := actor.ID
	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       inats.ActionImportUploaded,
		ResourceType: "csv_import",
		ResourceID:   imp.ID.String(),
		Details: map[string]any{
			"filename":   filename,
			"row_count":  imp.RowCount,
			"valid_rows": imp.ValidRows,
			"error_rows": imp.ErrorRows,
		},
		Timestamp: imp.UploadedAt,
	})
	return imp, preview, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Import, error) {
	imp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fault.Storage("loading import", err)
	}
	if imp == nil {
		return nil, fault.NotFound("import %s not found", id)
	}
	return imp, nil
}

func (s *Service) Get(ctx context.Context, actor users.Actor, id uuid.UUID) (*Import, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *Service) List(ctx context.Context, actor users.Actor, params ListParams) ([]Import, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	out, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, fault.Storage("listing imports", err)
	}
	if out == nil {
		out = []Import{}
	}
	return out, total, nil
}

// Preview re-parses a stored import and reports, per row, whether it would
// become an order. Nothing is created.
func (s *Service) Preview(ctx context.Context, actor users.Actor, id uuid.UUID) (*Preview, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	imp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := ParseBytes(imp.Payload, s.cfg.MaxRows)
	if err != nil {
		return nil, fault.Validation("%v", err)
	}
	preview, err := s.inspect(ctx, imp, rows)
	if err != nil {
		return nil, err
	}

	if imp.Status == StatusPendingValidation &&
		(preview.TotalRows != imp.RowCount || preview.ValidRows != imp.ValidRows || preview.ErrorRows != imp.ErrorRows) {
		counts := Counts{Rows: preview.TotalRows, Valid: preview.ValidRows, Errors: preview.ErrorRows}
		if err := s.repo.UpdateCounts(ctx, imp.ID, counts); err != nil {
			slog.Warn("refreshing import counts", "import_id", imp.ID, "error", err)
		}
	}
	return preview, nil
}

func (s *Service) inspect(ctx context.Context, imp *Import, rows []Row) (*Preview, error) {
	preview := &Preview{ImportID: imp.ID, Status: imp.Status, Rows: make([]PreviewRow, 0, len(rows))}
	seen := make(map[string]int)

	for _, row := range rows {
		pr := PreviewRow{Row: row}
		pr.Errors = append([]string(nil), row.Errors...)

		if len(row.Errors) == 0 {
			client, problem, err := s.resolve(ctx, row.ClientID, row.ClientEmail, users.RoleClient)
			if err != nil {
				return nil, err
			}
			if problem != "" {
				pr.Errors = append(pr.Errors, problem)
			} else {
				pr.ResolvedClientID = &client.ID
			}

			if row.AgentID != nil || row.AgentEmail != "" {
				agent, problem, err := s.resolve(ctx, row.AgentID, row.AgentEmail, users.RoleAgent)
				if err != nil {
					return nil, err
				}
				if problem != "" {
					pr.Errors = append(pr.Errors, problem)
				} else {
					pr.ResolvedAgentID = &agent.ID
				}
			}
		}

		if ext := row.ExternalOrderID; ext != "" {
			if first, dup := seen[ext]; dup {
				pr.Errors = append(pr.Errors, fmt.Sprintf("external_order_id %q already used on row %d", ext, first))
			} else {
				seen[ext] = row.Number
				existing, err := s.existing.GetByExternalID(ctx, ext)
				if err != nil {
					return nil, fault.Storage("checking external order id", err)
				}
				if existing != nil {
					pr.Errors = append(pr.Errors, fmt.Sprintf("external_order_id %q already imported as order #%s", ext, existing.ShortID()))
				}
			}
		}

		pr.Valid = len(pr.Errors) == 0
		preview.TotalRows++
		if pr.Valid {
			preview.ValidRows++
		} else {
			preview.ErrorRows++
		}
		preview.Rows = append(preview.Rows, pr)
	}
	return preview, nil
}

// resolve finds an active user with the given role. A non-empty problem
// describes why the row cannot use the identifier.
func (s *Service) resolve(ctx context.Context, id *uuid.UUID, email string, role users.Role) (*users.User, string, error) {
	u, err := s.directory.Resolve(ctx, id, email)
	if err != nil {
		return nil, "", fault.Storage("resolving "+string(role), err)
	}
	ref := email
	if id != nil {
		ref = id.String()
	}
	switch {
	case u == nil || u.Role != role:
		return nil, fmt.Sprintf("%s %s not found", role, ref), nil
	case !u.IsActive:
		return nil, fmt.Sprintf("%s %s is inactive", role, ref), nil
	}
	return u, "", nil
}

// Approve turns every row of a pending import into an order, in file order,
// through the same creation path as a single order. A failing row never stops
// the rows after it. The first row with a given external_order_id wins; later
// rows with the same id are reported as duplicates. Corrected rows are
// re-validated before anything is claimed.
func (s *Service) Approve(ctx context.Context, actor users.Actor, id uuid.UUID, corrections Corrections) (*Summary, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	imp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := ParseBytes(imp.Payload, s.cfg.MaxRows)
	if err != nil {
		return nil, fault.Validation("%v", err)
	}
	rows, err = corrections.Apply(rows)
	if err != nil {
		return nil, fault.Validation("%v", err)
	}

	claimed, err := s.repo.Claim(ctx, id)
	if err != nil {
		return nil, fault.Storage("claiming import", err)
	}
	if !claimed {
		if current, err := s.repo.GetByID(ctx, id); err == nil && current != nil {
			imp = current
		}
		return nil, notPending(imp)
	}

	// A claimed batch runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	summary := &Summary{ImportID: id, Counts: make(map[Outcome]int), Rows: make([]RowResult, 0, len(rows))}
	seen := make(map[string]int)
	for _, row := range rows {
		result := s.process(ctx, actor, imp, row, seen)
		metrics.ImportRowsTotal.WithLabelValues(string(result.Outcome)).Inc()
		summary.add(result)
	}

	counts := Counts{
		Rows:    summary.Total,
		Valid:   summary.Total - summary.Counts[OutcomeValidationError],
		Errors:  summary.Failed,
		Created: summary.Created,
	}
	notes := fmt.Sprintf("Imported %d orders. Errors: %d", summary.Created, summary.Failed)
	if len(corrections) > 0 {
		notes += fmt.Sprintf(". Corrected rows: %d", len(corrections))
	}
	if err := s.complete(ctx, id, actor.ID, counts, notes); err != nil {
		slog.Error("import processed but not marked validated", "import_id", id, "error", err)
		return nil, fault.Storage("completing import", err)
	}

	s.announce(ctx, actor, imp, inats.ActionImportValidated, summaryMessage(imp, summary), summary.Failed > 0,
		map[string]any{"created": summary.Created, "failed": summary.Failed, "counts": summary.Counts})
	return summary, nil
}

// complete retries marking a processed import validated; a claimed import
// left in processing can be neither approved nor rejected.
func (s *Service) complete(ctx context.Context, id, validatedBy uuid.UUID, counts Counts, notes string) error {
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = s.repo.Complete(ctx, id, validatedBy, counts, notes); err == nil {
			return nil
		}
		slog.Warn("marking import validated", "import_id", id, "attempt", attempt, "error", err)
		if attempt < completeAttempts {
			time.Sleep(time.Duration(attempt) * completeBackoff)
		}
	}
	return err
}

func (s *Service) process(ctx context.Context, actor users.Actor, imp *Import, row Row, seen map[string]int) RowResult {
	result := RowResult{Row: row.Number}
	fail := func(outcome Outcome, err error) RowResult {
		result.Outcome = outcome
		result.Error = err.Error()
		var d fault.Detailed
		if errors.As(err, &d) {
			result.Details = d.FaultDetails()
		}
		return result
	}

	// The first row naming an external id claims it even when malformed.
	duplicate := false
	if ext := row.ExternalOrderID; ext != "" {
		if _, duplicate = seen[ext]; !duplicate {
			seen[ext] = row.Number
		}
	}
	if len(row.Errors) > 0 {
		return fail(OutcomeValidationError, errors.New(strings.Join(row.Errors, "; ")))
	}
	if duplicate {
		return fail(OutcomeDuplicate, &orders.DuplicateError{ExternalOrderID: row.ExternalOrderID})
	}

	client, problem, err := s.resolve(ctx, row.ClientID, row.ClientEmail, users.RoleClient)
	if err != nil {
		return fail(OutcomeStorageFault, err)
	}
	if problem != "" {
		return fail(OutcomeValidationError, errors.New(problem))
	}
	var agentID *uuid.UUID
	if row.AgentID != nil || row.AgentEmail != "" {
		agent, problem, err := s.resolve(ctx, row.AgentID, row.AgentEmail, users.RoleAgent)
		if err != nil {
			return fail(OutcomeStorageFault, err)
		}
		if problem != "" {
			return fail(OutcomeValidationError, errors.New(problem))
		}
		agentID = &agent.ID
	}

	importID := imp.ID
	o, err := s.orders.Create(ctx, orders.CreateRequest{
		Actor:           actor,
		ClientID:        client.ID,
		AgentID:         agentID,
		BWQuantity:      row.BWQuantity,
		ColorQuantity:   row.ColorQuantity,
		PaperDimensions: row.PaperDimensions,
		PaperType:       row.PaperType,
		Finishing:       row.Finishing,
		Notes:           row.Notes,
		ExternalOrderID: row.ExternalOrderID,
		ImportID:        &importID,
		OrderedAt:       row.OrderedAt,
	})
	if err != nil {
		return fail(outcomeOf(err), err)
	}
	result.Outcome = OutcomeCreated
	result.OrderID = &o.ID
	return result
}

func outcomeOf(err error) Outcome {
	kind, _ := fault.KindOf(err)
	switch kind {
	case fault.KindDuplicateRow:
		return OutcomeDuplicate
	case fault.KindQuotaExceeded:
		return OutcomeQuotaExceeded
	case fault.KindAgentLimitExceeded:
		return OutcomeAgentLimitExceeded
	case fault.KindValidation, fault.KindPermissionDenied, fault.KindNotFound:
		return OutcomeValidationError
	}
	return OutcomeStorageFault
}

func summaryMessage(imp *Import, s *Summary) string {
	msg := fmt.Sprintf("CSV import %s validated: %d orders created", imp.OriginalFilename, s.Created)
	if s.Failed > 0 {
		msg += fmt.Sprintf(", %d rows failed", s.Failed)
	}
	return msg
}

// Reject closes a pending import without creating orders.
func (s *Service) Reject(ctx context.Context, actor users.Actor, id uuid.UUID, notes string) (*Import, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fault.Validation("a rejection reason is required")
	}
	imp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.Reject(ctx, id, actor.ID, notes)
	if err != nil {
		return nil, fault.Storage("rejecting import", err)
	}
	if !ok {
		return nil, notPending(imp)
	}

	now := s.now().UTC()
	imp.Status = StatusRejected
	imp.Notes = notes
	imp.ValidatedBy = &actor.ID
	imp.ValidatedAt = &now

	s.announce(ctx, actor, imp, inats.ActionImportRejected,
		fmt.Sprintf("CSV import %s was rejected: %s", imp.OriginalFilename, notes), true,
		map[string]any{"notes": notes})
	return imp, nil
}

func (s *Service) announce(ctx context.Context, actor users.Actor, imp *Import, action, message string, problem bool, details map[string]any) {
	level := inats.LevelSuccess
	if problem {
		level = inats.LevelWarning
	}
	ts := s.now().UTC()
	importID := imp.ID
	notes := []inats.NotificationEvent{{
		RecipientID: imp.UploadedBy,
		Category:    inats.CategoryImportResult,
		Level:       level,
		Message:     message,
		ImportID:    &importID,
		Timestamp:   ts,
	}}
	if actor.ID != imp.UploadedBy {
		n := notes[0]
		n.RecipientID = actor.ID
		notes = append(notes, n)
	}

	actorID := actor.ID
	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       action,
		ResourceType: "csv_import",
		ResourceID:   imp.ID.String(),
		Details:      details,
		Timestamp:    ts,
	}, notes...)
}
