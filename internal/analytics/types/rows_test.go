package types

import (
	"testing"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentEventSchema(t *testing.T) {
	schema, err := IntentEventSchema()
	require.NoError(t, err)

	fields := map[string]cbigquery.FieldType{}
	for _, f := range schema {
		fields[f.Name] = f.Type
	}
	assert.Len(t, fields, 13)
	assert.Equal(t, cbigquery.TimestampFieldType, fields[IntentEventPartitionField])
	assert.Equal(t, cbigquery.IntegerFieldType, fields["amount"])
	assert.Equal(t, cbigquery.NumericFieldType, fields["amount_major"])
	assert.Equal(t, cbigquery.StringFieldType, fields["failure_reason"])
	assert.Equal(t, cbigquery.JSONFieldType, fields["payload"])
}
