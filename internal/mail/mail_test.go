package mail

import (
	"context"
	"testing"
)

func TestNoOpNeverErrors(t *testing.T) {
	var n NoOp
	if err := n.Send(context.Background(), Message{Subject: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
