package embedcache

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/blueberrycongee/embedcache/tests/testutil"
)

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

func TestProperty_CosineSelfSimilarityIsOne(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	vectorGen := gen.SliceOfN(16, gen.Float64Range(-100, 100)).SuchThat(func(v []float64) bool {
		for _, x := range v {
			if math.Abs(x) > 1e-3 {
				return true
			}
		}
		return false
	})

	properties.Property("cosine(v, v) is 1 for non-zero v", prop.ForAll(
		func(v []float64) bool {
			got, err := CosineSimilarity(v, v)
			return err == nil && math.Abs(got-1) < 1e-9
		},
		vectorGen,
	))

	properties.Property("cosine is symmetric and bounded", prop.ForAll(
		func(a, b []float64) bool {
			ab, err1 := CosineSimilarity(a, b)
			ba, err2 := CosineSimilarity(b, a)
			return err1 == nil && err2 == nil &&
				math.Abs(ab-ba) < 1e-9 && ab <= 1+1e-9 && ab >= -1-1e-9
		},
		vectorGen, vectorGen,
	))

	properties.TestingRun(t)
}

func TestProperty_BatchPreservesInputOrder(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	textGen := gen.AlphaString().Map(func(s string) string {
		if len(s) > 30 {
			s = s[:30]
		}
		return "t" + s
	})
	// A few fixed texts, some padded, yield frequent duplicates.
	batchGen := gen.SliceOf(gen.OneGenOf(textGen, gen.OneConstOf("dup", " dup ", "x"))).
		Map(func(v []string) []string {
			if len(v) == 0 {
				return []string{"x"}
			}
			if len(v) > 40 {
				v = v[:40]
			}
			return v
		})

	properties.Property("embedding i belongs to text i", prop.ForAll(
		func(texts []string) bool {
			e := testutil.NewMockEmbedder(testDims)
			c := newTestClient(t, e, WithBatching(7, 0))

			res, err := c.GenerateEmbeddings(context.Background(), texts, EmbeddingOptions{})
			if err != nil || len(res.Embeddings) != len(texts) {
				return false
			}
			for i, text := range texts {
				if !reflect.DeepEqual(res.Embeddings[i], testutil.VectorFor(strings.TrimSpace(text), testDims)) {
					return false
				}
			}
			return res.CachedCount+res.GeneratedCount == len(texts)
		},
		batchGen,
	))

	properties.Property("a second batch is served entirely from cache", prop.ForAll(
		func(texts []string) bool {
			e := testutil.NewMockEmbedder(testDims)
			c, _ := newCachedClient(t, e)
			ctx := context.Background()

			first, err := c.GenerateEmbeddings(ctx, texts, EmbeddingOptions{})
			if err != nil {
				return false
			}
			calls := e.CallCount()
			second, err := c.GenerateEmbeddings(ctx, texts, EmbeddingOptions{})
			if err != nil {
				return false
			}
			return e.CallCount() == calls &&
				second.CachedCount == len(texts) &&
				reflect.DeepEqual(first.Embeddings, second.Embeddings)
		},
		batchGen,
	))

	properties.TestingRun(t)
}
