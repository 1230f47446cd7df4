package suggest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Story is one educational story suggestion.
type Story struct {
	Title   string `json:"storyTitle"`
	Summary string `json:"storySummary"`
	Reason  string `json:"suitabilityReason"`
}

type activityAnswer struct {
	SuggestedActivities []string `json:"suggestedActivities"`
}

// Result carries whichever halves of a suggestion request succeeded. Story
// is nil when the story half failed; Activities is nil when the activity
// half failed.
type Result struct {
	Story      *Story
	Activities []string
}

// ErrUnavailable is returned when neither half of a request could be served.
var ErrUnavailable = errors.New("suggestions unavailable")

// Service fans a behavior log out to the story and activity prompts. The two
// calls run concurrently and fail independently: one bad half still yields a
// usable result.
type Service struct {
	model   ModelClient
	limiter *rate.Limiter
}

// NewService wraps a model client with a per-minute model-call budget shared
// by all callers. One Request spends two calls.
func NewService(model ModelClient, callsPerMinute int) *Service {
	if callsPerMinute <= 0 {
		callsPerMinute = 30
	}
	burst := callsPerMinute
	if burst < modelCallsPerRequest {
		burst = modelCallsPerRequest
	}
	return &Service{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), burst),
	}
}

// modelCallsPerRequest is how many model calls one Request fans out to.
const modelCallsPerRequest = 2

const storyPrompt = `Based on the following behavior log, suggest an educational story that could help the child develop social and emotional skills.

Behavior Log: %LOG%

Consider the child's emotions, triggers, and any resolutions that were attempted. The story should be relevant to the situation and offer a positive learning experience.

Respond with a JSON object containing "storyTitle", "storySummary", and "suitabilityReason" string fields.`

const activityPrompt = `Based on the following behavior log, suggest three puppet-based activities that would help the child regulate their emotions:

Behavior Log:
%LOG%

Respond with a JSON object containing a "suggestedActivities" field that is an array of strings. Each string should be a short name/description of the activity.`

// Request generates suggestions for one behavior log.
func (s *Service) Request(ctx context.Context, behaviorLog string) (Result, error) {
	if err := s.limiter.WaitN(ctx, modelCallsPerRequest); err != nil {
		return Result{}, err
	}

	var (
		wg          sync.WaitGroup
		story       Story
		activities  activityAnswer
		storyErr    error
		activityErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		storyErr = s.model.Generate(ctx, fillPrompt(storyPrompt, behaviorLog), &story)
	}()
	go func() {
		defer wg.Done()
		activityErr = s.model.Generate(ctx, fillPrompt(activityPrompt, behaviorLog), &activities)
	}()
	wg.Wait()

	if storyErr != nil && activityErr != nil {
		return Result{}, ErrUnavailable
	}

	result := Result{}
	if storyErr == nil {
		result.Story = &story
	}
	if activityErr == nil {
		result.Activities = activities.SuggestedActivities
	}
	return result, nil
}

func fillPrompt(template, behaviorLog string) string {
	return strings.ReplaceAll(template, "%LOG%", behaviorLog)
}
