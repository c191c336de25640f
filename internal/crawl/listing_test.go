package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingURL(t *testing.T) {
	t.Parallel()

	got := ListingURL(testTemplate, "go developer", "Côte d'Ivoire", 3, 25)
	assert.Equal(t, "https://source.test/jobs?keywords=go+developer&location=C%C3%B4te+d%27Ivoire&start=75", got)
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body><div id="main-content"><section><ul>
<li><div><a href="/jobs/view/1?refId=x">one</a></div></li>
<li><div><a href="">empty</a></div></li>
<li><div><a>none</a></div></li>
<li><div><a href="https://other.test/jobs/view/2">two</a></div></li>
</ul></section></div>
<aside><ul><li><div><a href="/ignored">not a result</a></div></li></ul></aside>
</body></html>`)

	urls, err := ParseListing(body, "https://source.test/jobs/search?start=0", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://source.test/jobs/view/1?refId=x", "https://other.test/jobs/view/2"}, urls)
}

func TestHitsMarker(t *testing.T) {
	t.Parallel()

	markers := []string{"login", "Challenge", " "}
	m, hit := hitsMarker("https://source.test/CHECKPOINT/challenge/abc", markers)
	assert.True(t, hit)
	assert.Equal(t, "challenge", m)
	_, hit = hitsMarker("https://source.test/jobs", markers)
	assert.False(t, hit)
}
