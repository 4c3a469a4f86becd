// Package ingestion drives an uploaded cut list through
// upload → parse → duplicate check → preview → commit.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/batchcode"
	"offcut-ledger-backend/internal/config"
	"offcut-ledger-backend/internal/models"
	"offcut-ledger-backend/internal/parser"
	"offcut-ledger-backend/internal/repository"
	"offcut-ledger-backend/internal/services/dedup"
	"offcut-ledger-backend/internal/services/ledger"
	"offcut-ledger-backend/internal/session"
)

const dateLayout = "2006-01-02"

// Archiver keeps a copy of the source file. Optional.
type Archiver interface {
	Put(ctx context.Context, token, filename string, content []byte) (string, error)
	Remove(ctx context.Context, key string) error
}

type Pipeline struct {
	db      *gorm.DB
	store   *session.Store
	locker  *session.Locker
	parsers *parser.Registry
	guard   *dedup.Guard
	batches *repository.BatchRepository
	ledger  *ledger.Ledger
	archive Archiver
	cfg     config.IngestionConfig
	logger  *zap.Logger
}

type Deps struct {
	Store    *session.Store
	Locker   *session.Locker
	Parsers  *parser.Registry
	Guard    *dedup.Guard
	Batches  *repository.BatchRepository
	Ledger   *ledger.Ledger
	Archiver Archiver
}

func NewPipeline(deps Deps, cfg config.IngestionConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:      deps.Batches.DB(),
		store:   deps.Store,
		locker:  deps.Locker,
		parsers: deps.Parsers,
		guard:   deps.Guard,
		batches: deps.Batches,
		ledger:  deps.Ledger,
		archive: deps.Archiver,
		cfg:     cfg,
		logger:  logger.Named("ingestion"),
	}
}

type CommittedBatch struct {
	BatchID   uint   `json:"batch_id"`
	BatchCode string `json:"batch_code"`
	LineItems int    `json:"line_items"`
	OffcutIDs []uint `json:"offcut_ids"`
}

type CommitResult struct {
	Token            string           `json:"token"`
	State            string           `json:"state"`
	BatchDate        string           `json:"batch_date"`
	Batches          []CommittedBatch `json:"batches"`
	OffcutsCreated   int              `json:"offcuts_created"`
	OffcutsConsumed  []uint           `json:"offcuts_consumed"`
	SkippedLegacyIDs []int            `json:"skipped_legacy_ids,omitempty"`
	SourceObjectKey  string           `json:"source_object_key,omitempty"`
}

// Upload stores the raw file under a fresh session token.
func (p *Pipeline) Upload(ctx context.Context, filename string, content []byte) (string, error) {
	if err := p.checkUpload(filename, content); err != nil {
		return "", err
	}

	token := uuid.NewString()
	sess := &session.Session{
		Token:    token,
		Filename: filename,
		Content:  content,
		State:    session.StateUploaded,
	}
	if err := p.store.Save(ctx, sess); err != nil {
		return "", err
	}

	p.logger.Info("cut list uploaded",
		zap.String("token", token),
		zap.String("filename", filename),
		zap.Int("bytes", len(content)))
	return token, nil
}

// Reupload swaps the file of a session that has not reached preview, e.g.
// after a duplicate conflict.
func (p *Pipeline) Reupload(ctx context.Context, token, filename string, content []byte) error {
	if err := p.checkUpload(filename, content); err != nil {
		return err
	}
	return p.withSession(ctx, token, "upload", func(sess *session.Session) error {
		if sess.State != session.StateUploaded && sess.State != session.StateParsed {
			return stateError(sess, "upload")
		}
		sess.Filename = filename
		sess.Content = content
		sess.Rows = nil
		sess.State = session.StateUploaded
		return p.store.Save(ctx, sess)
	})
}

func (p *Pipeline) checkUpload(filename string, content []byte) error {
	switch {
	case strings.TrimSpace(filename) == "":
		return &apperror.UploadError{Reason: "no file provided"}
	case len(content) == 0:
		return &apperror.UploadError{Reason: "file is empty"}
	case p.cfg.MaxUploadBytes > 0 && int64(len(content)) > p.cfg.MaxUploadBytes:
		return &apperror.UploadError{Reason: fmt.Sprintf("file exceeds %d bytes", p.cfg.MaxUploadBytes)}
	case !p.parsers.Supported(filename):
		return &apperror.UploadError{Reason: fmt.Sprintf("unsupported file type, expected one of %s", strings.Join(p.parsers.Extensions(), ", "))}
	}
	return nil
}

// Process parses the uploaded file and checks its batch codes. A clean
// result leaves the session preview-ready.
func (p *Pipeline) Process(ctx context.Context, token, batchDate string) (*Preview, error) {
	var preview *Preview
	err := p.withSession(ctx, token, "process", func(sess *session.Session) error {
		if sess.State != session.StateUploaded && sess.State != session.StateParsed {
			return stateError(sess, "process")
		}
		if strings.TrimSpace(batchDate) == "" {
			return apperror.Validation("batch_date", "batch date is required")
		}
		if _, err := time.Parse(dateLayout, batchDate); err != nil {
			return apperror.Validation("batch_date", "expected YYYY-MM-DD, got %q", batchDate)
		}

		rows, excluded, err := p.parse(sess)
		if err != nil {
			sess.State = session.StateRejected
			sess.Reason = err.Error()
			sess.Content = nil
			if saveErr := p.store.Save(ctx, sess); saveErr != nil {
				return saveErr
			}
			p.logger.Warn("cut list rejected", zap.String("token", token), zap.Error(err))
			return err
		}

		lines := deriveLines(rows)
		codes := batchCodes(lines)
		sess.BatchDate = batchDate
		sess.Rows = rows

		res, err := p.guard.CheckDuplicates(ctx, codes)
		if err != nil {
			return err
		}
		if res.Conflict {
			sess.State = session.StateParsed
			if err := p.store.Save(ctx, sess); err != nil {
				return err
			}
			p.logger.Warn("duplicate batch codes",
				zap.String("token", token),
				zap.Strings("existing_codes", res.ExistingCodes))
			return res.Err()
		}

		sess.State = session.StatePreviewReady
		if err := p.store.Save(ctx, sess); err != nil {
			return err
		}

		preview = &Preview{
			Token:        token,
			Filename:     sess.Filename,
			State:        string(sess.State),
			BatchDate:    batchDate,
			BatchCodes:   codes,
			ExcludedRows: excluded,
			Lines:        lines,
			Totals:       totals(lines),
		}
		p.logger.Info("preview ready",
			zap.String("token", token),
			zap.Strings("batch_codes", codes),
			zap.Int("lines", len(lines)),
			zap.Int("excluded_rows", excluded))
		return nil
	})
	return preview, err
}

// parse runs the adapter, drops rows from excluded saws and normalises
// batch codes.
func (p *Pipeline) parse(sess *session.Session) ([]parser.Row, int, error) {
	rows, err := p.parsers.Parse(sess.Filename, sess.Content)
	if err != nil {
		return nil, 0, err
	}

	kept := make([]parser.Row, 0, len(rows))
	for _, r := range rows {
		if p.excludedSaw(r.SawName) {
			continue
		}
		code, err := batchcode.Normalize(r.BatchCode)
		if err != nil {
			return nil, 0, &apperror.ParseError{Filename: sess.Filename, Err: err}
		}
		r.BatchCode = code
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return nil, 0, &apperror.ParseError{
			Filename: sess.Filename,
			Err:      fmt.Errorf("%w after excluding saws %v", parser.ErrNoRows, p.cfg.ExcludedSaws),
		}
	}
	return kept, len(rows) - len(kept), nil
}

func (p *Pipeline) excludedSaw(name string) bool {
	name = strings.TrimSpace(name)
	for _, saw := range p.cfg.ExcludedSaws {
		if strings.EqualFold(name, strings.TrimSpace(saw)) {
			return true
		}
	}
	return false
}

// Ingest commits a preview-ready session in one transaction: batches, line
// items, spawned offcuts and any offcuts the cut list says were used.
func (p *Pipeline) Ingest(ctx context.Context, token, actor string) (*CommitResult, error) {
	var result *CommitResult
	err := p.withSession(ctx, token, "ingest", func(sess *session.Session) error {
		if sess.State != session.StatePreviewReady {
			return stateError(sess, "ingest")
		}
		batchDate, err := time.Parse(dateLayout, sess.BatchDate)
		if err != nil {
			return apperror.Validation("batch_date", "expected YYYY-MM-DD, got %q", sess.BatchDate)
		}

		lines := deriveLines(sess.Rows)
		codes := batchCodes(lines)

		var objectKey string
		if p.archive != nil {
			if objectKey, err = p.archive.Put(ctx, token, sess.Filename, sess.Content); err != nil {
				return err
			}
		}

		result = &CommitResult{
			Token:           token,
			BatchDate:       sess.BatchDate,
			SourceObjectKey: objectKey,
			OffcutsConsumed: []uint{},
		}
		err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := p.guard.CheckDuplicatesTx(ctx, tx, codes)
			if err != nil {
				return err
			}
			if res.Conflict {
				return res.Err()
			}

			for _, code := range codes {
				committed, consumed, skipped, err := p.commitBatch(ctx, tx, code, batchDate, lines, sess.Filename, objectKey, actor)
				if err != nil {
					return err
				}
				result.Batches = append(result.Batches, committed)
				result.OffcutsCreated += len(committed.OffcutIDs)
				result.OffcutsConsumed = append(result.OffcutsConsumed, consumed...)
				result.SkippedLegacyIDs = append(result.SkippedLegacyIDs, skipped...)
			}
			return nil
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = p.conflictAfterRace(ctx, codes)
		}
		if err != nil {
			result = nil
			p.dropArchived(ctx, token, objectKey)
			return err
		}

		sess.State = session.StateCommitted
		sess.Content = nil
		sess.Rows = nil
		if err := p.store.Save(ctx, sess); err != nil {
			p.logger.Error("committed but session not updated", zap.String("token", token), zap.Error(err))
		}
		result.State = string(sess.State)

		p.logger.Info("batch committed",
			zap.String("token", token),
			zap.Strings("batch_codes", codes),
			zap.Int("offcuts_created", result.OffcutsCreated),
			zap.Int("offcuts_consumed", len(result.OffcutsConsumed)),
			zap.String("actor", actor))
		return nil
	})
	return result, err
}

// dropArchived removes the copy of a source file whose commit failed. The
// commit error is what the caller sees; a failed removal is only logged.
func (p *Pipeline) dropArchived(ctx context.Context, token, key string) {
	if p.archive == nil || key == "" {
		return
	}
	if err := p.archive.Remove(ctx, key); err != nil {
		p.logger.Warn("archived source not removed after failed commit",
			zap.String("token", token),
			zap.String("object_key", key),
			zap.Error(err))
	}
}

func (p *Pipeline) commitBatch(ctx context.Context, tx *gorm.DB, code string, batchDate time.Time, lines []PreviewLine, filename, objectKey, actor string) (CommittedBatch, []uint, []int, error) {
	batch := &models.Batch{
		BatchCode:       code,
		BatchDate:       batchDate,
		SourceFile:      filename,
		SourceObjectKey: objectKey,
		CommittedBy:     actor,
	}
	var batchLines []PreviewLine
	for _, l := range lines {
		if l.BatchCode == code {
			batchLines = append(batchLines, l)
			batch.LineItems = append(batch.LineItems, l.lineItem())
		}
	}
	if err := p.batches.WithTx(tx).Create(ctx, batch); err != nil {
		return CommittedBatch{}, nil, nil, err
	}

	var legacy []int
	for _, l := range batchLines {
		legacy = append(legacy, l.SuggestedOffcutIDs...)
	}
	consumed, skipped, err := p.ledger.ConsumeLegacy(ctx, tx, batch, legacy, actor)
	if err != nil {
		return CommittedBatch{}, nil, nil, err
	}

	committed := CommittedBatch{
		BatchID:   batch.ID,
		BatchCode: code,
		LineItems: len(batch.LineItems),
		OffcutIDs: []uint{},
	}
	for i, item := range batch.LineItems {
		if item.OffcutLength <= 0 {
			continue
		}
		piece := ledger.NewOffcut{
			BatchDetailID: item.ID,
			Profile:       item.MaterialProfile(),
			LengthMM:      item.OffcutLength,
		}
		if saved := batchLines[i].SavedOffcutIDs; len(saved) > 0 {
			piece.LegacyID = intPtr(saved[0])
			if len(saved) > 1 {
				piece.RelatedLegacyID = intPtr(saved[1])
			}
		}
		id, err := p.ledger.RecordOffcut(ctx, tx, piece)
		if err != nil {
			return CommittedBatch{}, nil, nil, err
		}
		committed.OffcutIDs = append(committed.OffcutIDs, id)
	}
	return committed, consumed, skipped, nil
}

// conflictAfterRace reports which codes another commit inserted between
// our check and our insert.
func (p *Pipeline) conflictAfterRace(ctx context.Context, codes []string) error {
	res, err := p.guard.CheckDuplicates(ctx, codes)
	if err != nil || !res.Conflict {
		return &apperror.DuplicateConflict{ExistingCodes: codes}
	}
	return res.Err()
}

// Discard drops a session that has not been committed.
func (p *Pipeline) Discard(ctx context.Context, token string) error {
	return p.withSession(ctx, token, "discard", func(sess *session.Session) error {
		if sess.State == session.StateCommitted {
			return stateError(sess, "discard")
		}
		if err := p.store.Delete(ctx, token); err != nil {
			return err
		}
		p.logger.Info("session discarded", zap.String("token", token), zap.String("state", string(sess.State)))
		return nil
	})
}

// withSession runs fn holding the token lock with the freshly loaded session.
func (p *Pipeline) withSession(ctx context.Context, token, op string, fn func(*session.Session) error) error {
	if strings.TrimSpace(token) == "" {
		return apperror.Validation("token", "session token is required")
	}
	release, err := p.locker.Acquire(ctx, token)
	if err != nil {
		return err
	}
	defer release()

	sess, err := p.store.Load(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return &apperror.StateError{Token: token, Op: op}
	}
	if err != nil {
		return err
	}
	return fn(sess)
}

func stateError(sess *session.Session, op string) error {
	return &apperror.StateError{Token: sess.Token, Op: op, State: string(sess.State)}
}

func intPtr(v int) *int { return &v }
