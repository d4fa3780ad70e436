package types

// Names of events pushed to browser clients over the event channel.
const (
	EventCallUpdated     = "call:updated"
	EventCallStatus      = "call:status"
	EventCallEnded       = "call:ended"
	EventTranscriptNew   = "transcript:new"
	EventAIPaused        = "ai:paused"
	EventAIResumed       = "ai:resumed"
	EventCallInsights    = "call:insights"
	EventCalendarUpdated = "calendar:updated"
	EventLeadUpdated     = "lead:updated"
	EventServerDraining  = "server:draining"
)
