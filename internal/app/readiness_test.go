package app

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestBuildReadinessChecks_NilCollaboratorsFail(t *testing.T) {
	dbCheck, queueCheck, limiterCheck := BuildReadinessChecks(nil, nil, nil)
	if dbCheck(context.Background()) == nil {
		t.Fatal("expected an error for a nil db pinger")
	}
	if queueCheck(context.Background()) == nil {
		t.Fatal("expected an error for a nil queue pinger")
	}
	if limiterCheck(context.Background()) == nil {
		t.Fatal("expected an error for a nil redis client")
	}
}

func TestBuildReadinessChecks_PropagatesDBError(t *testing.T) {
	wantErr := errors.New("connection refused")
	dbCheck, _, _ := BuildReadinessChecks(fakePinger{err: wantErr}, fakePinger{}, nil)
	if err := dbCheck(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("dbCheck() error = %v, want %v", err, wantErr)
	}
}

func TestBuildReadinessChecks_QueueOK(t *testing.T) {
	_, queueCheck, _ := BuildReadinessChecks(fakePinger{}, fakePinger{}, nil)
	if err := queueCheck(context.Background()); err != nil {
		t.Fatalf("queueCheck() error = %v, want nil", err)
	}
}
