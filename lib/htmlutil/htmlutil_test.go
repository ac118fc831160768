package htmlutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	require.Equal(t, "Data Science", CleanText("  Data \n\n  Science \t"))
	require.Equal(t, "ab", CleanText("a\x00b"))
	require.Equal(t, "", CleanText("   \n\t  "))
}

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(`
		<ul>
			<li><a href="/admin/courses/data-science/3/stats-dashboard/data/comments">
				Comments   export
			</a></li>
			<li><a href="/somewhere/else">Other</a></li>
		</ul>`))
	require.NoError(t, err)

	anchors := GetAnchors(context.Background(), doc.Find("ul li a"))
	require.Len(t, anchors, 2)
	require.Equal(t, "Comments export", anchors[0].Name)
	require.Equal(t, "/admin/courses/data-science/3/stats-dashboard/data/comments", anchors[0].Href)
}
