package featureflags

var (
	// LeaseExtender keeps pubsub messages alive while walkerd works on a
	// long alignment run, using the real GCP deadline extension when the
	// subscription supports it.
	LeaseExtender = new("LeaseExtender", true)

	// SaveRuns uploads the full run document set (start, per-walk events,
	// stop) to the results bucket when a run finishes.
	SaveRuns = new("SaveRuns", true)

	// LiveEvents streams run documents to connected websocket clients as
	// they are emitted.
	LiveEvents = new("LiveEvents", true)

	// MedianFilter discards centroid samples further than k median absolute
	// deviations from the sample median before averaging. Protects goal
	// checks against single junk camera frames.
	MedianFilter = new("MedianFilter", true)

	// ModelFallback lets model mode drop back to the geometry solver when
	// no trustworthy model has been fitted yet. Disabled, a model run with
	// no model fails instead.
	ModelFallback = new("ModelFallback", true)
)
