package sink

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/threadstat/internal/insight"
	"github.com/ppiankov/threadstat/internal/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVSink_QuotesText(t *testing.T) {
	out := &memOutput{}
	records := []insight.Record{
		{ID: "1", Permalink: "https://t/1", Text: `she said "hi", then left`, Stats: threads.Stats{"views": 12, "likes": 3}},
		{ID: "2", Permalink: "https://t/2", Text: "plain"},
	}
	require.NoError(t, NewCSVSink(out).Write(context.Background(), records, time.Now()))

	lines := strings.Split(strings.TrimSuffix(string(out.data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,permalink,text,views,likes,replies,reposts,quotes,shares", lines[0])
	assert.Equal(t, `1,https://t/1,"she said ""hi"", then left",12,3,0,0,0,0`, lines[1])
	assert.Equal(t, `2,https://t/2,"plain",0,0,0,0,0,0`, lines[2])
	assert.Equal(t, "text/csv", out.contentType)

	// Output must stay readable by a standard CSV parser.
	parsed, err := csv.NewReader(strings.NewReader(string(out.data))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, `she said "hi", then left`, parsed[1][2])
}

func TestCSVField(t *testing.T) {
	assert.Equal(t, "abc", csvField("abc"))
	assert.Equal(t, `"a,b"`, csvField("a,b"))
	assert.Equal(t, `"say ""x"""`, csvField(`say "x"`))
}
