package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMovesAppended_PorEtiqueta(t *testing.T) {
	before := testutil.ToFloat64(MovesAppended.WithLabelValues("receipt", "fifo"))
	MovesAppended.WithLabelValues("receipt", "fifo").Inc()
	MovesAppended.WithLabelValues("delivery", "fifo").Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(MovesAppended.WithLabelValues("receipt", "fifo")))
}

func TestOutboxDeadLettered_Incrementa(t *testing.T) {
	before := testutil.ToFloat64(OutboxDeadLettered)
	OutboxDeadLettered.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OutboxDeadLettered))
}
