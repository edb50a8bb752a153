package eventbus

import "testing"

func TestSubscribePrefixFilter(t *testing.T) {
	b := New()
	jobs, unsubJobs := b.Subscribe(4, "job.")
	defer unsubJobs()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "job.finished"})
	b.Publish(Event{Type: "config.reloaded"})

	if got := len(jobs); got != 1 {
		t.Fatalf("job subscriber got %d events, want 1", got)
	}
	if got := len(all); got != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", got)
	}
	e := <-jobs
	if e.Type != "job.finished" || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	if b.Dropped() != 4 {
		t.Fatalf("Dropped = %d, want 4", b.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
