package app

import (
	"context"
	"fmt"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/rfb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// Viewer is one meeting attendee and the desktop their token would reach.
type Viewer struct {
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Presenter bool           `json:"presenter,omitempty"`
	Route     string         `json:"route,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Key       string         `json:"key,omitempty"`
	ViewOnly  bool           `json:"viewOnly,omitempty"`
	Target    *target.Target `json:"target,omitempty"`
	Geometry  *rfb.Result    `json:"geometry,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Viewers lists the attendees of meetingID with their routes and, where
// a desktop is running, its geometry. Desktops are never started.
func (a *App) Viewers(ctx context.Context, meetingID string) ([]Viewer, error) {
	if a.Meetings == nil {
		return nil, errors.ConfigError("meeting directory is not enabled", nil)
	}
	meeting, err := a.Meetings.GetMeetingInfo(ctx, meetingID)
	if err != nil {
		return nil, errors.Resolution(fmt.Sprintf("failed to read meeting %q", meetingID), err)
	}

	viewers := make([]Viewer, len(meeting.Attendees))
	var targets []target.Target
	for i, att := range meeting.Attendees {
		v := Viewer{Name: att.FullName, Role: att.Role, Presenter: att.IsPresenter}

		route, err := a.Resolver.ResolveSubject(ctx, att.FullName, meetingID)
		if err != nil {
			v.Error = err.Error()
			viewers[i] = v
			continue
		}
		v.Route = route.Kind.String()
		v.Reason = route.Reason
		v.Key = route.Key
		v.ViewOnly = route.ViewOnly

		t, ok := route.Target, route.IsDirect()
		if !ok {
			t, ok = a.runningTarget(ctx, route.Key)
		}
		if ok {
			v.Target = &t
			targets = append(targets, t)
		}
		viewers[i] = v
	}

	geometry := make(map[target.Target]rfb.Result)
	for _, res := range a.Prober.ProbeAll(ctx, targets, a.Config.Probe.Parallelism) {
		geometry[res.Target] = res
	}
	for i := range viewers {
		if viewers[i].Target == nil {
			continue
		}
		if res, ok := geometry[*viewers[i].Target]; ok {
			viewers[i].Geometry = &res
		} else if viewers[i].Error == "" {
			viewers[i].Error = "desktop unreachable"
		}
	}
	return viewers, nil
}

// runningTarget returns the desktop for key if one is running, preferring
// the registry over asking the backend.
func (a *App) runningTarget(ctx context.Context, key string) (target.Target, bool) {
	if t, ok := a.Registry.ReadyTarget(key); ok {
		return t, true
	}
	t, err := a.Backend.Locate(key)
	if err != nil {
		return target.Target{}, false
	}
	return t, a.Backend.Exists(ctx, t)
}
