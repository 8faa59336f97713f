package printer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereceipt/bleprint/internal/escpos"
	"github.com/thereceipt/bleprint/internal/receipt"
	"github.com/thereceipt/bleprint/pkg/receiptformat"
)

// Settings are the printer preferences a job runs with.
type Settings struct {
	PaperWidth        int            `json:"paper_width"`
	TextEncoding      string         `json:"text_encoding"`
	CutType           escpos.CutType `json:"cut_type"`
	CashDrawerEnabled bool           `json:"cashdrawer_enabled"`
	AutoPrintEnabled  bool           `json:"auto_print_enabled"`
	CurrencySymbol    string         `json:"currency_symbol"`
	TrailingFeeds     int            `json:"trailing_feeds"`
}

// DefaultSettings is an 80mm printer with a partial cut.
func DefaultSettings() Settings {
	return Settings{
		PaperWidth:    receipt.PaperWidth80,
		CutType:       escpos.CutPartial,
		TrailingFeeds: 3,
	}
}

// Service is the single owner of printing: it serializes jobs over the
// Manager's link and keeps their results.
type Service struct {
	manager *Manager
	tx      *Transmitter
	jobs    *JobLog
	log     *zap.Logger
	now     func() time.Time

	jobMu sync.Mutex // held for the whole of a job

	mu       sync.RWMutex
	settings Settings
	compiler *receipt.Compiler

	auto sync.WaitGroup
}

// NewService validates settings and returns a service printing through m.
func NewService(m *Manager, tx *Transmitter, settings Settings, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		manager: m,
		tx:      tx,
		jobs:    NewJobLog(DefaultJobHistory),
		log:     log.Named("jobs"),
		now:     time.Now,
	}
	if err := s.UpdateSettings(settings); err != nil {
		return nil, err
	}
	return s, nil
}

// Manager returns the connection manager.
func (s *Service) Manager() *Manager {
	return s.manager
}

// Jobs returns the job history.
func (s *Service) Jobs() *JobLog {
	return s.jobs
}

// Settings returns the active settings.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings swaps the settings used by subsequent jobs.
func (s *Service) UpdateSettings(settings Settings) error {
	if _, err := escpos.LookupCharset(settings.TextEncoding); err != nil {
		return err
	}
	if settings.CutType == "" {
		settings.CutType = escpos.CutPartial
	}
	ct, err := escpos.ParseCutType(string(settings.CutType))
	if err != nil {
		return err
	}
	settings.CutType = ct
	if settings.TrailingFeeds < 0 {
		settings.TrailingFeeds = 0
	}
	c, err := receipt.NewCompiler(receipt.Options{
		PaperWidth:        settings.PaperWidth,
		TextEncoding:      settings.TextEncoding,
		CurrencySymbol:    settings.CurrencySymbol,
		CashDrawerEnabled: settings.CashDrawerEnabled,
		Now:               func() time.Time { return s.now() },
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.settings = settings
	s.compiler = c
	s.mu.Unlock()
	return nil
}

func (s *Service) current() (Settings, *receipt.Compiler) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, s.compiler
}

// Compile turns r into the commands PrintReceipt would send, without the
// trailer. Nothing is printed.
func (s *Service) Compile(r *receiptformat.Receipt) ([]escpos.Command, error) {
	_, c := s.current()
	cmds, err := c.Compile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}
	if want, drift := r.Transaction.TotalDrift(); drift {
		s.log.Warn("receipt total does not match its parts, printing as supplied",
			zap.String("transaction", r.Transaction.ID),
			zap.Stringer("total", r.Transaction.Total),
			zap.Stringer("computed", want))
	}
	return cmds, nil
}

// PrintReceipt validates and compiles r, then prints it.
func (s *Service) PrintReceipt(r *receiptformat.Receipt) (*JobResult, error) {
	cmds, err := s.Compile(r)
	if err != nil {
		return nil, err
	}
	return s.run(JobReceipt, cmds)
}

// PrintSelfTest prints the self-test page.
func (s *Service) PrintSelfTest() (*JobResult, error) {
	_, c := s.current()
	return s.run(JobSelfTest, c.CompileSelfTest())
}

// Execute prints cmds as one job.
func (s *Service) Execute(cmds []escpos.Command) (*JobResult, error) {
	return s.run(JobCommands, cmds)
}

// AutoPrint prints r in the background when auto-print is enabled and
// reports whether a job was started. The outcome is only logged.
func (s *Service) AutoPrint(r *receiptformat.Receipt) bool {
	settings, _ := s.current()
	if !settings.AutoPrintEnabled {
		return false
	}

	s.auto.Add(1)
	go func() {
		defer s.auto.Done()
		defer func() {
			if v := recover(); v != nil {
				s.log.Error("auto-print panicked", zap.Any("panic", v))
			}
		}()

		res, err := s.PrintReceipt(r)
		if err != nil {
			s.log.Warn("auto-print failed", zap.Error(err))
			return
		}
		s.log.Info("auto-print finished", zap.String("job", res.ID))
	}()
	return true
}

// Wait blocks until background auto-print jobs finish.
func (s *Service) Wait() {
	s.auto.Wait()
}

// run executes one job: initialize, every command in order with
// continue-on-error, then trailing feeds and the cut.
func (s *Service) run(kind JobKind, cmds []escpos.Command) (*JobResult, error) {
	if !s.jobMu.TryLock() {
		return nil, ErrPrinterBusy
	}
	defer s.jobMu.Unlock()

	l, err := s.manager.beginJob()
	if err != nil {
		return nil, err
	}

	settings, _ := s.current()
	all := append(append([]escpos.Command(nil), cmds...), trailer(settings)...)
	res := &JobResult{
		ID:        uuid.NewString(),
		Kind:      kind,
		Commands:  len(all),
		StartedAt: s.now(),
	}
	log := s.log.With(zap.String("job", res.ID), zap.String("kind", string(kind)))
	log.Info("print job started", zap.Int("commands", res.Commands))

	enc, err := escpos.NewEncoder(settings.TextEncoding)
	if err != nil {
		s.manager.endJob(l, true, err.Error())
		return s.finish(res, err, log)
	}

	send := func(b []byte) error {
		n, err := s.tx.Send(l.peripheral, l.char, b)
		res.Chunks += n
		if err == nil {
			res.Bytes += len(b)
		}
		return err
	}

	var lost error
	initErr := send(escpos.InitializeSequence())
	switch {
	case errors.Is(initErr, ErrConnectionLost):
		lost = initErr
	case initErr != nil:
		log.Warn("initialize failed", zap.Error(initErr))
	}

	var failed []*CommandError
	if lost == nil {
		for i, cmd := range all {
			b, err := enc.Encode(cmd)
			if err == nil {
				err = send(b)
			}
			if err == nil {
				continue
			}
			if errors.Is(err, ErrConnectionLost) {
				lost = err
				break
			}
			log.Warn("print command failed", zap.Int("index", i), zap.Stringer("command", cmd.Kind), zap.Error(err))
			failed = append(failed, &CommandError{Index: i, Command: cmd, Err: err})
		}
	}
	res.Failed = len(failed)

	var (
		jobErr    error
		pervasive bool
	)
	switch {
	case lost != nil:
		jobErr = lost
	case initErr != nil:
		jobErr, pervasive = fmt.Errorf("initialize: %w", initErr), true
	case len(failed) > 0 && len(failed) == len(all):
		jobErr, pervasive = fmt.Errorf("every command failed: %w", failed[0]), true
	case len(failed) > 0:
		jobErr = &PartialFailureError{Failed: failed, Total: len(all)}
	}

	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	if pervasive {
		log.Error("print job failed", zap.Error(jobErr))
	}
	s.manager.endJob(l, pervasive, msg)
	return s.finish(res, jobErr, log)
}

func (s *Service) finish(res *JobResult, err error, log *zap.Logger) (*JobResult, error) {
	res.FinishedAt = s.now()
	res.Err = err
	switch {
	case err == nil:
		res.Status = JobCompleted
	case errors.Is(err, ErrPartialCommandFailure):
		res.Status = JobPartial
	default:
		res.Status = JobFailed
	}
	if err != nil {
		res.Error = err.Error()
	}
	s.jobs.Add(res)

	log.Info("print job finished",
		zap.String("status", string(res.Status)),
		zap.Int("failed", res.Failed),
		zap.Int("chunks", res.Chunks),
		zap.Int("bytes", res.Bytes),
		zap.Duration("took", res.Duration()))
	return res, err
}

func trailer(s Settings) []escpos.Command {
	var cmds []escpos.Command
	if s.TrailingFeeds > 0 {
		cmds = append(cmds, escpos.Feed(s.TrailingFeeds))
	}
	if s.CutType != escpos.CutNone {
		cmds = append(cmds, escpos.Cut(s.CutType))
	}
	return cmds
}
