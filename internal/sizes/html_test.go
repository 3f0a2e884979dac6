package sizes

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tablistSheet = `<html><body>
<div class="size-sheet">
  <div role="tablist">
    <button role="tab" id="t-us" aria-controls="p-us">US Men</button>
    <button role="tab" id="t-jp" aria-controls="p-jp"> JP </button>
  </div>
  <div role="tabpanel" id="p-jp">
    <ul>
      <li><button>JP 24.0</button></li>
      <li><button>JP   24.5<br><span>품절</span></button></li>
      <li><button>JP 25.0</button></li>
    </ul>
  </div>
  <div role="tabpanel" aria-labelledby="t-us">
    <div data-size="6">US Men 6</div>
    <div data-size="6.5">US Men 6.5</div>
  </div>
</div>
<script>var x = "JP 99";</script>
</body></html>`

const gridSheet = `<table class="sizes">
  <thead><tr><th>JP</th><th>US Men</th><th></th></tr></thead>
  <tbody>
    <tr><td>24.0</td><td>6</td><td>ignored</td></tr>
    <tr><td>24.5</td><td></td></tr>
    <tr><td>25.0 SOLD OUT</td><td>7</td></tr>
  </tbody>
</table>`

func TestParseHTML_Tablist(t *testing.T) {
	table, err := ParseHTML(strings.NewReader(tablistSheet))
	require.NoError(t, err)

	assert.Equal(t, []string{"JP 24.0", "JP 24.5 품절", "JP 25.0"}, table["JP"])
	assert.Equal(t, []string{"US Men 6", "US Men 6.5"}, table["US Men"])
	assert.Len(t, table, 2)
}

func TestParseHTML_TablistPairsByOrder(t *testing.T) {
	doc := `<div>
<a role="tab">JP</a><a role="tab">US Kids</a>
<section role="tabpanel"><ul><li>JP 22.0</li></ul></section>
<section role="tabpanel"><ul><li>US Kids 4</li></ul></section>
</div>`
	table, err := ParseHTML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, Table{"JP": {"JP 22.0"}, "US Kids": {"US Kids 4"}}, table)
}

func TestParseHTML_Grid(t *testing.T) {
	table, err := ParseHTML(strings.NewReader(gridSheet))
	require.NoError(t, err)
	assert.Equal(t, Table{
		"JP":     {"24.0", "24.5", "25.0 SOLD OUT"},
		"US Men": {"6", "7"},
	}, table)
}

func TestParseHTML_NoTable(t *testing.T) {
	_, err := ParseHTML(strings.NewReader(`<p>nothing here</p>`))
	assert.True(t, errors.Is(err, ErrNoSizeTable))
}

func TestParseHTML_FeedsMatcher(t *testing.T) {
	table, err := ParseHTML(strings.NewReader(tablistSheet))
	require.NoError(t, err)

	_, err = Match("245", table, nil)
	assert.Error(t, err)

	res, err := Match("250", table, nil)
	require.NoError(t, err)
	assert.Equal(t, "JP 25.0", res.Label)
	assert.Equal(t, 2, res.Index)
}
