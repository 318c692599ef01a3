package publish

import (
	"context"
	"errors"
	"testing"
)

type fakeBus struct {
	published []string
	appended  []string
	finished  bool
	failOn    string
}

func (f *fakeBus) Publish(ctx context.Context, channel, line string) error {
	if f.failOn == "publish" {
		return errors.New("boom")
	}
	f.published = append(f.published, line)
	return nil
}

func (f *fakeBus) Append(ctx context.Context, channel, line string) error {
	if f.failOn == "append" {
		return errors.New("boom")
	}
	f.appended = append(f.appended, line)
	return nil
}

func (f *fakeBus) Finish(ctx context.Context, channel string) error {
	if f.failOn == "finish" {
		return errors.New("boom")
	}
	f.finished = true
	return nil
}

func TestLineFiltersAndWritesBoth(t *testing.T) {
	bus := &fakeBus{}
	p := New(bus, "job-1")

	if err := p.Line(context.Background(), "\x1b[31mred\x1b[0m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `<span class="ansi31">red</span>` + "\n"
	if len(bus.published) != 1 || bus.published[0] != want {
		t.Fatalf("published = %+v, want [%q]", bus.published, want)
	}
	if len(bus.appended) != 1 || bus.appended[0] != want {
		t.Fatalf("appended = %+v, want [%q]", bus.appended, want)
	}
}

func TestFinishDeletesChannel(t *testing.T) {
	bus := &fakeBus{}
	p := New(bus, "job-1")
	if err := p.Finish(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bus.finished {
		t.Fatalf("expected Finish to be called on the bus")
	}
}

func TestLinePropagatesPublishError(t *testing.T) {
	bus := &fakeBus{failOn: "publish"}
	p := New(bus, "job-1")
	if err := p.Line(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error")
	}
}
