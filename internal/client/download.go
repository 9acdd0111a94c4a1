package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/download"
	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/models"
)

// DownloadResult is the terminal outcome of one download job
type DownloadResult struct {
	PackageID string
	Files     []string
	Err       error
}

type downloadJob struct {
	variant models.PackageVariant
	install bool
	done    chan DownloadResult
}

func (j *downloadJob) finish(files []string, err error) {
	j.done <- DownloadResult{PackageID: j.variant.PackageID, Files: files, Err: err}
}

// jobQueue is the FIFO feeding the download worker
type jobQueue struct {
	mu     sync.Mutex
	jobs   []*downloadJob
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{signal: make(chan struct{}, 1)}
}

func (q *jobQueue) push(job *downloadJob) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until a job is available, the queue is closed or ctx is done
func (q *jobQueue) pop(ctx context.Context) (*downloadJob, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close rejects new jobs and fails the ones still waiting
func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	for _, job := range jobs {
		job.finish(nil, context.Canceled)
	}
}

// Download queues the selected variant of id on the serial worker. When
// install is set the files are handed to RequestInstall on success. The
// returned channel receives exactly one result.
func (a *App) Download(id string, install bool) <-chan DownloadResult {
	job := &downloadJob{install: install, done: make(chan DownloadResult, 1)}

	info, ok := a.store.Get(id)
	if !ok {
		job.variant.PackageID = id
		job.finish(nil, models.NewError(models.ErrUnknown, id, models.ErrUnknownPackage))
		return job.done
	}

	job.variant = info.Selected
	if !a.queue.push(job) {
		job.finish(nil, context.Canceled)
	}
	return job.done
}

// DownloadAndWait downloads id without installing and waits for the result
func (a *App) DownloadAndWait(ctx context.Context, id string) ([]string, error) {
	select {
	case res := <-a.Download(id, false):
		return res.Files, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *App) downloadWorker(ctx context.Context) {
	for {
		job, ok := a.queue.pop(ctx)
		if !ok {
			return
		}
		a.runDownload(ctx, job)
	}
}

func (a *App) runDownload(ctx context.Context, job *downloadJob) {
	id := job.variant.PackageID
	taskID := a.nextTaskID()
	title := fmt.Sprintf("%s %s ...", a.msgs.Get(messages.KeyDownloading), id)
	log := logrus.WithFields(logrus.Fields{"package": id, "version_code": job.variant.VersionCode, "task": taskID})

	a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
		return p.
			WithDownloadStatus(&models.DownloadStatus{State: models.DownloadActive, Message: a.msgs.Get(messages.KeyProcessing)}).
			WithTask(models.TaskInfo{ID: taskID, Title: a.msgs.Get(messages.KeyStartingDownload)})
	})
	log.Debug("Download started")

	files, err := a.packages.Fetch(ctx, job.variant, func(p download.Progress) {
		if p.Percent < 0 {
			return
		}
		a.store.Update(id, func(info models.PackageInfo) models.PackageInfo {
			return info.
				WithDownloadStatus(&models.DownloadStatus{
					State:      models.DownloadActive,
					BytesRead:  p.Read,
					TotalBytes: p.Total,
					Percent:    p.Percent,
					Complete:   p.Exhausted && p.Index == p.Count-1,
					Message:    a.msgs.Get(messages.KeyDownloading),
				}).
				WithTask(models.TaskInfo{ID: taskID, Title: title, Progress: int(p.Percent)})
		})
	})

	finished := models.TaskInfo{ID: taskID, Title: title, Progress: models.TaskFinished}
	if err != nil {
		log.WithError(err).Warn("Download failed")
		reason := a.msgs.Describe(err)
		a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
			return p.
				WithDownloadStatus(&models.DownloadStatus{State: models.DownloadFailed, Message: reason}).
				WithTask(finished)
		})
		job.finish(nil, err)
		return
	}

	a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
		return p.WithDownloadStatus(nil).WithTask(finished)
	})
	log.WithField("files", len(files)).Info("Download complete")

	if job.install {
		if err := a.RequestInstall(ctx, id, files); err != nil {
			log.WithError(err).Warn("Install request failed")
		}
	}
	job.finish(files, nil)
}
