package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: order-flow
version: "1"
steps:
  - name: start
    type: task
    task:
      type: http
      url: "{{ work.url }}"
    next:
      - when: "result.approved == true"
        then: [ship]
        else: [reject]
  - name: ship
    type: task
  - name: reject
    type: end
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "order-flow", p.Name)
	assert.Len(t, p.Steps, 3)
}

func TestParse_NoSteps(t *testing.T) {
	_, err := Parse([]byte("name: empty\n"))
	assert.Error(t, err)
}

func TestStepByName(t *testing.T) {
	p, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	s := p.StepByName("ship")
	require.NotNil(t, s)
	assert.Equal(t, StepTask, s.Type)

	assert.Nil(t, p.StepByName("missing"))
}

func TestPredecessors(t *testing.T) {
	p, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	preds := p.Predecessors("ship")
	assert.Equal(t, []string{"start"}, preds)

	preds = p.Predecessors("start")
	assert.Empty(t, preds)
}
