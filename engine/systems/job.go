package systems

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

type JobSystem struct {
	numWorkers int
	jobQueue   chan metadata.JobTask
	wg         sync.WaitGroup
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

// NewJobSystem spins up numWorkers workers; zero means one per CPU.
func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers == 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers < 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan metadata.JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				paramsChan := make(chan interface{}, 1)
				// Run the job and handle potential errors
				err := job.OnStart(job.InputParams, paramsChan)
				if err != nil {
					core.LogError(err.Error())
					if job.OnFailure != nil {
						job.OnFailure(paramsChan)
					}
				} else {
					if job.OnComplete != nil {
						job.OnComplete(paramsChan)
					}
				}

				// Call the completion callback if set
				if job.OnCompletionCallback != nil {
					job.OnCompletionCallback()
				}
			}
		}()
	}
}

/**
 * @brief Shuts the job system down.
 */
func (js *JobSystem) Shutdown() error {
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}

// AddWorkNonBlocking adds work and returns immediately.
func (js *JobSystem) AddWorkNonBlocking(jt metadata.JobTask) {
	go js.Submit(jt)
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param info The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt metadata.JobTask) {
	js.jobQueue <- jt
}

// RunBatches submits one job per batch index and blocks until every batch
// has completed. Used by the scene upload to fan packing out to workers.
func (js *JobSystem) RunBatches(numBatches int, fn func(batchIndex int)) {
	if numBatches <= 0 {
		return
	}
	var wg sync.WaitGroup
	wg.Add(numBatches)
	for i := 0; i < numBatches; i++ {
		batch := i
		js.Submit(metadata.JobTask{
			OnStart: func(params interface{}, resultChan chan interface{}) error {
				fn(batch)
				return nil
			},
			OnCompletionCallback: func() {
				wg.Done()
			},
		})
	}
	wg.Wait()
}
