package cube

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"fitscube/internal/models"
	"fitscube/pkg/fits"
)

// planeJob pairs one input image with the output slot its pixel data is
// written to. Slot assignment is computed before any concurrent work starts
// and never changes during the write pass, so the final output does not
// depend on completion order.
type planeJob struct {
	desc *models.ImageDescriptor
	slot int
}

// writePlanes copies every job's full pixel array into its output slot, with
// at most maxWorkers copies in flight. Each writer addresses a disjoint byte
// range of the pre-sized output, so no locking is needed around the file
// itself.
//
// A failing plane does not abort siblings already scheduled; its error is
// recorded per slot and the aggregate is returned once all scheduled work
// has drained. Context cancellation stops new work from being scheduled but
// lets in-flight writes finish.
func writePlanes(ctx context.Context, out *fits.File, stackAxis int, jobs []planeJob, maxWorkers int, log *zap.SugaredLogger) error {
	if maxWorkers < 1 {
		maxWorkers = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(maxWorkers))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []*PlaneWriteError
	)
	record := func(e *PlaneWriteError) {
		mu.Lock()
		errs = append(errs, e)
		mu.Unlock()
	}

	var cancelErr error
	for _, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Canceled: stop scheduling, let in-flight writes drain.
			cancelErr = err
			break
		}
		wg.Add(1)
		go func(job planeJob) {
			defer wg.Done()
			defer sem.Release(1)
			if err := copyPlane(out, stackAxis, job); err != nil {
				record(&PlaneWriteError{Path: job.desc.Path, Slot: job.slot, Err: err})
				return
			}
			log.Debugw("wrote plane", "path", job.desc.Path, "slot", job.slot)
		}(job)
	}
	wg.Wait()

	if len(errs) == 0 && cancelErr == nil {
		return nil
	}
	// Report slots in order regardless of completion order.
	sort.Slice(errs, func(i, j int) bool { return errs[i].Slot < errs[j].Slot })
	all := make([]error, 0, len(errs)+1)
	for _, e := range errs {
		all = append(all, e)
	}
	if cancelErr != nil {
		all = append(all, cancelErr)
	}
	return errors.Join(all...)
}

// copyPlane reads one input's full pixel array and writes it into its slot.
func copyPlane(out *fits.File, stackAxis int, job planeJob) error {
	src, err := fits.Open(job.desc.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	if src.Bitpix() != out.Bitpix() {
		return fmt.Errorf("pixel type BITPIX=%d does not match the output's BITPIX=%d", src.Bitpix(), out.Bitpix())
	}
	raw, err := src.ReadData()
	if err != nil {
		return err
	}
	return out.WriteSlice(stackAxis, job.slot, raw)
}
