package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"dorian/internal/logger"
	"dorian/internal/prompt"
	"dorian/internal/reset"
	"dorian/internal/storage"
)

// Regenerate re-creates versions from..to of a person's lineage in place. The
// chain starts from version from-1 (or the base image when from is 1); each
// rebuilt version keeps its number, creation time and reset reason. Versions
// that were lineage restarts are rebuilt from the base image again.
func (r *Runner) Regenerate(ctx context.Context, key string, from, to int) ([]*storage.GenerationRecord, error) {
	if from < 1 || to < from {
		return nil, fmt.Errorf("invalid version range %d..%d", from, to)
	}
	person, err := r.lookup(key)
	if err != nil {
		return nil, err
	}
	log := logger.ForPerson(key)

	lock := r.personLock(key)
	lock.Lock()
	defer lock.Unlock()

	var input []byte
	var mime string
	if from > 1 {
		prev, err := r.records.GetByVersion(ctx, key, from-1)
		if err != nil {
			return nil, fmt.Errorf("read starting version %d: %w", from-1, err)
		}
		if input, err = r.images.Get(prev.ImageRef); err != nil {
			return nil, fmt.Errorf("%w: v%d: %v", ErrLatestImageUnavailable, prev.Version, err)
		}
		mime = http.DetectContentType(input)
	}

	recent, err := r.records.RecentPrompts(ctx, key, r.opts.AvoidLastN)
	if err != nil {
		return nil, err
	}

	var rebuilt []*storage.GenerationRecord
	for v := from; v <= to; v++ {
		old, err := r.records.GetByVersion(ctx, key, v)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return rebuilt, fmt.Errorf("read version %d: %w", v, err)
		}

		decision := r.regenerateDecision(old, v)
		useBase := decision.ForceBase
		if useBase {
			if input, mime, err = r.loadBase(person.BaseImage); err != nil {
				return rebuilt, fmt.Errorf("%w: %v", ErrBaseImageMissing, err)
			}
		}

		effect, instruction := r.opts.FirstRunPrompt, r.opts.FirstRunPrompt
		if !useBase {
			if effect, err = prompt.Pick(r.opts.PromptPool, recent, r.opts.AvoidLastN); err != nil {
				return rebuilt, err
			}
			instruction = r.instruction(effect)
		}

		res, err := r.generate(ctx, instruction, input, mime)
		if err != nil {
			return rebuilt, fmt.Errorf("generate version %d: %w", v, err)
		}

		at := r.now()
		if old != nil {
			at = old.CreatedAt
		}
		ref, err := r.images.Put(key, at.In(r.opts.Zone), res.Image, res.MIMEType)
		if err != nil {
			return rebuilt, fmt.Errorf("store image for version %d: %w", v, err)
		}

		rec := &storage.GenerationRecord{
			PersonKey:    key,
			Version:      v,
			Prompt:       effect,
			ImageRef:     ref,
			ModelVersion: res.ModelVersion,
			ResponseID:   res.ResponseID,
			UsedBase:     decision.ForceBase,
			Note:         res.Note,
			ResetReason:  string(decision.Reason),
			CreatedAt:    at,
		}
		if old != nil {
			rec, err = r.records.ReplaceVersion(ctx, rec)
		} else {
			rec, err = r.records.InsertAtVersion(ctx, rec)
		}
		if err != nil {
			log.WithFields(logrus.Fields{"image_ref": ref, "attempted_version": v}).
				Errorf("Image stored but record write failed, reconcile manually: %v", err)
			return rebuilt, fmt.Errorf("write version %d: %w", v, err)
		}
		if old != nil {
			if err := r.images.Delete(old.ImageRef); err != nil {
				log.Warnf("Could not delete replaced image %s: %v", old.ImageRef, err)
			}
		}

		log.WithFields(logrus.Fields{"version": v, "response_id": rec.ResponseID}).Infof("Regenerated v%d", v)
		rebuilt = append(rebuilt, rec)
		recent = append(recent, effect)
		input, mime = res.Image, res.MIMEType
	}

	r.invalidateProgress(ctx, key)
	return rebuilt, nil
}

// regenerateDecision keeps an existing version's restart flag and reason. A
// missing version is filled as the policy would decide for a chained run.
func (r *Runner) regenerateDecision(old *storage.GenerationRecord, version int) reset.Decision {
	if old != nil {
		return reset.Decision{ForceBase: old.UsedBase || version == 1, Reason: reset.Reason(old.ResetReason)}
	}
	if version == 1 {
		return reset.Decision{ForceBase: true, Reason: reset.ReasonNoHistory}
	}
	return r.opts.Policy.Resolve(reset.Inputs{
		HasAnyHistory: true,
		HasImageToday: true,
		TodayWeekday:  r.now().In(r.opts.Zone).Weekday(),
	})
}
