package metadata

/** Definition for the entry point of a job. */
type JobStart func(params interface{}, resultChan chan interface{}) error

/** Definition for completion of a job. */
type JobOnComplete func(resultChan chan interface{})

/**
 * @brief Describes a job to be run on the worker pool. The instance packing
 * loop submits one task per work batch.
 */
type JobTask struct {
	/** @brief A function to be invoked when the job starts. Required. */
	OnStart JobStart
	/** @brief A function to be invoked when the job successfully completes. Optional. */
	OnComplete JobOnComplete
	/** @brief A function to be invoked when the job fails. Optional. */
	OnFailure JobOnComplete
	/** @brief Data to be passed to the entry point upon execution. */
	InputParams interface{}
	/** @brief Invoked after the job finishes, success or not. Used for joins. */
	OnCompletionCallback func()
}
