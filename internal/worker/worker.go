package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"teamshots/internal/composer"
	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/queue"
	"teamshots/internal/storage"
	"teamshots/internal/workflow"
)

// errFinalized marks failures after which the generation already holds a
// terminal status.
var errFinalized = errors.New("generation finalized")

const (
	downloadConcurrency = 4
	finalizeTimeout     = 30 * time.Second
)

// Storage is the object store the worker reads selfies from and writes
// results to.
type Storage interface {
	DownloadSelfie(ctx context.Context, key string) (domain.SelfieImage, error)
	DownloadAsset(ctx context.Context, key string) (*domain.SelfieImage, error)
	Upload(ctx context.Context, key, mime string, data []byte) (string, error)
}

type SelfieClassifier interface {
	ClassifyOrUnknown(ctx context.Context, data []byte) (domain.Classification, error)
}

// Ledger is the credit side of a run.
type Ledger interface {
	Debit(ctx context.Context, owner domain.CreditOwner, amount int, generationID string) (domain.CreditTransaction, error)
	RefundGeneration(ctx context.Context, generationID string) (domain.CreditTransaction, bool, error)
}

type Runner interface {
	Run(ctx context.Context, in workflow.RunInput) (workflow.Outcome, error)
}

type Deps struct {
	Source      queue.Source
	Generations domain.GenerationRepository
	Selfies     domain.SelfieRepository
	Storage     Storage
	Classifier  SelfieClassifier
	Ledger      Ledger
	Controller  Runner
	// Remover is optional; nil skips background removal.
	Remover BackgroundRemover
	Logger  *infra.Logger
}

type Options struct {
	Slots int
	// SourceBackoff is the pause after a failed Next call.
	SourceBackoff time.Duration
	// Heartbeat is how often a held generation is touched so the stale
	// reclaim leaves it alone. Zero disables it.
	Heartbeat time.Duration
}

// Worker pulls generations from a queue source and runs each one to a
// terminal status, at most Slots at a time.
type Worker struct {
	deps   Deps
	opts   Options
	logger infra.Logger
}

func New(deps Deps, opts Options) *Worker {
	if opts.Slots < 1 {
		opts.Slots = 1
	}
	if opts.SourceBackoff <= 0 {
		opts.SourceBackoff = time.Second
	}
	return &Worker{deps: deps, opts: opts, logger: infra.OrNop(deps.Logger)}
}

// Run blocks until ctx ends, then waits for in-flight generations. Runs
// interrupted by shutdown are requeued.
func (w *Worker) Run(ctx context.Context) error {
	slots := semaphore.NewWeighted(int64(w.opts.Slots))
	w.logger.Info().Int("slots", w.opts.Slots).Msg("worker: started")
	defer func() {
		// wait for every slot to drain
		_ = slots.Acquire(context.Background(), int64(w.opts.Slots))
		w.logger.Info().Msg("worker: drained")
	}()

	for {
		if err := slots.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}
		d, err := w.deps.Source.Next(ctx)
		if err != nil {
			slots.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("worker: queue source failed")
			if err := sleepCtx(ctx, w.opts.SourceBackoff); err != nil {
				return err
			}
			continue
		}
		go func() {
			defer slots.Release(1)
			w.Handle(ctx, d)
		}()
	}
}

// Handle processes one delivery. The delivery is acked once the generation
// reached a terminal status.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) {
	g := d.Generation
	log := w.logger.With().Str("generation_id", g.ID).Str("person_id", g.PersonID).Logger()
	log.Info().Int("selfies", len(g.SelfieKeys)).Msg("worker: picked generation")

	stopBeat := w.heartbeat(ctx, g.ID, log)
	err := w.process(ctx, &g)
	stopBeat()
	if err != nil {
		if ctx.Err() != nil {
			w.requeue(ctx, g.ID, log)
			return
		}
		log.Error().Err(err).Msg("worker: generation failed")
		if !errors.Is(err, errFinalized) {
			out := workflow.Outcome{State: workflow.StateExhausted, Reason: "internal error while preparing the generation"}
			if err := w.finalize(ctx, &g, out); err != nil {
				log.Error().Err(err).Msg("worker: could not record failure")
			}
		}
	}
	if err := d.Ack(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("worker: ack failed")
	}
}

// heartbeat touches the generation until the returned stop func is called.
func (w *Worker) heartbeat(ctx context.Context, id string, log infra.Logger) func() {
	if w.opts.Heartbeat <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.opts.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.deps.Generations.Heartbeat(ctx, id); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("worker: heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) process(ctx context.Context, g *domain.Generation) error {
	if g.CancelRequested {
		return w.finalize(ctx, g, workflow.Outcome{State: workflow.StateCancelled, Reason: "cancelled before start"})
	}
	if err := w.debit(ctx, g); err != nil {
		return err
	}

	selfies, types, err := w.prepareSelfies(ctx, g)
	if err != nil {
		return err
	}
	assets, err := w.styleAssets(ctx, g.Style)
	if err != nil {
		return err
	}

	in := workflow.RunInput{
		Context: domain.NewGenerationContext(*g, selfies, types),
		Assets:  assets,
	}
	outcome, err := w.deps.Controller.Run(ctx, in)
	if err != nil {
		return err
	}
	return w.finalize(ctx, g, outcome)
}

// debit charges the owner before any provider call. A failed debit ends the
// generation without running it.
func (w *Worker) debit(ctx context.Context, g *domain.Generation) error {
	if g.CreditCost <= 0 || g.DebitTransactionID != "" {
		return nil
	}
	txn, err := w.deps.Ledger.Debit(ctx, g.Owner(), g.CreditCost, g.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := "could not reserve credits"
		if errors.Is(err, domain.ErrInsufficientCredits) {
			reason = fmt.Sprintf("insufficient credits: %d required", g.CreditCost)
		}
		if failErr := w.deps.Generations.Fail(context.WithoutCancel(ctx), g.ID, domain.GenerationStatusFailed, reason, 0, nil); failErr != nil {
			return errors.Join(err, failErr)
		}
		return fmt.Errorf("%w: debit: %w", errFinalized, err)
	}
	g.DebitTransactionID = txn.ID
	if err := w.deps.Generations.SetDebit(ctx, g.ID, txn.ID); err != nil {
		return fmt.Errorf("record debit: %w", err)
	}
	return nil
}

// prepareSelfies downloads, optionally cleans and classifies every selfie in
// parallel. Selfies that cannot be downloaded are skipped.
func (w *Worker) prepareSelfies(ctx context.Context, g *domain.Generation) (map[string]domain.SelfieImage, map[string]domain.SelfieType, error) {
	records := map[string]domain.Selfie{}
	if w.deps.Selfies != nil {
		list, err := w.deps.Selfies.ListByKeys(ctx, g.SelfieKeys)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			w.logger.Warn().Err(err).Str("generation_id", g.ID).Msg("worker: selfie records unavailable")
		}
		for _, s := range list {
			records[s.Key] = s
		}
	}

	var (
		mu      sync.Mutex
		selfies = make(map[string]domain.SelfieImage, len(g.SelfieKeys))
		types   = make(map[string]domain.SelfieType, len(g.SelfieKeys))
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(downloadConcurrency)
	for _, key := range g.SelfieKeys {
		rec, ok := records[key]
		if !ok {
			rec = domain.Selfie{Key: key}
		}
		eg.Go(func() error {
			img, kind, err := w.prepareSelfie(egCtx, g.PersonID, rec)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				w.logger.Warn().Err(err).Str("generation_id", g.ID).Str("selfie", key).Msg("worker: skipping selfie")
				return nil
			}
			mu.Lock()
			selfies[key] = img
			types[key] = kind
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return selfies, types, nil
}

func (w *Worker) prepareSelfie(ctx context.Context, personID string, rec domain.Selfie) (domain.SelfieImage, domain.SelfieType, error) {
	img, err := w.deps.Storage.DownloadSelfie(ctx, rec.EffectiveKey())
	if err != nil && rec.ProcessedKey != "" {
		img, err = w.deps.Storage.DownloadSelfie(ctx, rec.Key)
		rec.ProcessedKey = ""
	}
	if err != nil {
		return domain.SelfieImage{}, "", fmt.Errorf("download %s: %w", rec.Key, err)
	}
	if rec.ProcessedKey == "" && w.deps.Remover != nil {
		if cleaned, ok := w.removeBackground(ctx, personID, rec.Key, img); ok {
			img = cleaned
		}
	}

	if rec.Classification != nil {
		return img, rec.Classification.Type.Value, nil
	}
	if w.deps.Classifier == nil {
		return img, domain.SelfieUnknown, nil
	}
	c, err := w.deps.Classifier.ClassifyOrUnknown(ctx, img.Data)
	if err != nil {
		w.logger.Warn().Err(err).Str("selfie", rec.Key).Msg("worker: classification failed, using unknown")
		return img, c.Type.Value, nil
	}
	if w.deps.Selfies != nil {
		if err := w.deps.Selfies.SaveClassification(ctx, rec.Key, c); err != nil {
			w.logger.Warn().Err(err).Str("selfie", rec.Key).Msg("worker: save classification failed")
		}
	}
	return img, c.Type.Value, nil
}

func (w *Worker) removeBackground(ctx context.Context, personID, key string, img domain.SelfieImage) (domain.SelfieImage, bool) {
	data, err := w.deps.Remover.Remove(ctx, img.Data)
	if err != nil {
		w.logger.Warn().Err(err).Str("selfie", key).Msg("worker: background removal failed, using original")
		return img, false
	}
	processedKey := ProcessedSelfieKey(personID, key)
	stored, err := w.deps.Storage.Upload(ctx, processedKey, "image/png", data)
	if err != nil {
		w.logger.Warn().Err(err).Str("selfie", key).Msg("worker: store processed selfie failed")
		return img, false
	}
	if w.deps.Selfies != nil {
		if err := w.deps.Selfies.SaveProcessedKey(ctx, key, stored); err != nil {
			w.logger.Warn().Err(err).Str("selfie", key).Msg("worker: save processed key failed")
		}
	}
	return domain.SelfieImage{Key: stored, MimeType: "image/png", Data: data}, true
}

func (w *Worker) styleAssets(ctx context.Context, style domain.StyleSettings) (composer.StyleAssets, error) {
	assets := composer.StyleAssets{LogoPosition: style.Branding.Position}
	if key := style.Background.Key; key != "" {
		bg, err := w.deps.Storage.DownloadAsset(ctx, key)
		if err != nil {
			return assets, fmt.Errorf("download background %s: %w", key, err)
		}
		assets.Background = bg
	}
	if key := style.Branding.LogoKey; key != "" {
		logo, err := w.deps.Storage.DownloadAsset(ctx, key)
		if err != nil {
			return assets, fmt.Errorf("download logo %s: %w", key, err)
		}
		assets.Logo = logo
	}
	return assets, nil
}

// finalize writes the terminal status. Writes use a context that survives
// shutdown so a finished run is never lost.
func (w *Worker) finalize(ctx context.Context, g *domain.Generation, out workflow.Outcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	log := w.logger.With().Str("generation_id", g.ID).Str("state", string(out.State)).Int("attempt", out.Attempts).Logger()

	switch out.State {
	case workflow.StateAccepted:
		key := FinalImageKey(g.PersonID, g.ID, out.MimeType)
		stored, err := w.deps.Storage.Upload(ctx, key, mimeOrPNG(out.MimeType), out.Image)
		if err != nil {
			log.Error().Err(err).Msg("worker: store final image failed")
			return w.fail(ctx, g, domain.GenerationStatusFailed, "could not store the final image", out)
		}
		if err := w.deps.Generations.Complete(ctx, g.ID, stored, out.Attempts, out.Feedback); err != nil {
			return fmt.Errorf("complete generation: %w", err)
		}
		log.Info().Str("image_key", stored).Msg("worker: generation completed")
		return nil
	case workflow.StateCancelled:
		return w.fail(ctx, g, domain.GenerationStatusCancelled, orDefault(out.Reason, "cancelled"), out)
	default:
		if len(out.Image) > 0 && out.Attempts > 0 {
			key := ReviewImageKey(g.PersonID, g.ID, out.Attempts, out.MimeType)
			if _, err := w.deps.Storage.Upload(ctx, key, mimeOrPNG(out.MimeType), out.Image); err != nil {
				log.Warn().Err(err).Msg("worker: store review candidate failed")
			}
		}
		return w.fail(ctx, g, domain.GenerationStatusFailed, orDefault(out.Reason, "generation failed"), out)
	}
}

func (w *Worker) fail(ctx context.Context, g *domain.Generation, status domain.GenerationStatus, reason string, out workflow.Outcome) error {
	if err := w.deps.Generations.Fail(ctx, g.ID, status, reason, out.Attempts, out.Feedback); err != nil {
		return fmt.Errorf("fail generation: %w", err)
	}
	w.logger.Info().Str("generation_id", g.ID).Str("status", string(status)).Str("reason", reason).Msg("worker: generation ended")
	w.refund(ctx, g)
	return nil
}

// refund returns the debit. Errors are logged; the sweeper retries them.
func (w *Worker) refund(ctx context.Context, g *domain.Generation) {
	if g.DebitTransactionID == "" {
		return
	}
	txn, created, err := w.deps.Ledger.RefundGeneration(ctx, g.ID)
	if err != nil {
		w.logger.Error().Err(err).Str("generation_id", g.ID).Msg("worker: refund failed, left for sweeper")
		return
	}
	if created {
		w.logger.Info().Str("generation_id", g.ID).Str("transaction_id", txn.ID).Int("amount", txn.Amount).Msg("worker: credits refunded")
	}
}

func (w *Worker) requeue(ctx context.Context, id string, log infra.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := w.deps.Generations.Requeue(ctx, id); err != nil {
		log.Error().Err(err).Msg("worker: requeue failed")
		return
	}
	log.Info().Msg("worker: generation requeued on shutdown")
}

// FinalImageKey is where an accepted image is stored.
func FinalImageKey(personID, generationID, mime string) string {
	return storage.EnsureExtension(path.Join("generations", personID, generationID, "final"), mimeOrPNG(mime))
}

// ReviewImageKey is where the last rejected candidate of an exhausted run is
// kept for manual review.
func ReviewImageKey(personID, generationID string, attempt int, mime string) string {
	name := fmt.Sprintf("review-attempt-%d", attempt)
	return storage.EnsureExtension(path.Join("generations", personID, generationID, name), mimeOrPNG(mime))
}

func ProcessedSelfieKey(personID, key string) string {
	base := strings.TrimSuffix(path.Base(key), path.Ext(key))
	return path.Join("selfies", personID, "processed", base+".png")
}

func mimeOrPNG(mime string) string {
	if strings.TrimSpace(mime) == "" {
		return "image/png"
	}
	return mime
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
