package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/pierrot-lc/snake-search/nn"
)

// encoderBlock is one pre-norm transformer block.
type encoderBlock struct {
	norm1 *nn.LayerNorm
	attn  *nn.MultiHeadAttention
	norm2 *nn.LayerNorm
	fc1   *nn.Linear
	act   *nn.GELU
	fc2   *nn.Linear
}

func newEncoderBlock(name string, dim, heads, ffn int, rng *rand.Rand) *encoderBlock {
	return &encoderBlock{
		norm1: nn.NewLayerNorm(name+".norm1", dim),
		attn:  nn.NewMultiHeadAttention(name+".attn", dim, heads, rng),
		norm2: nn.NewLayerNorm(name+".norm2", dim),
		fc1:   nn.NewLinear(name+".ffn.fc1", dim, ffn, rng),
		act:   &nn.GELU{},
		fc2:   nn.NewLinear(name+".ffn.fc2", ffn, dim, rng),
	}
}

func (b *encoderBlock) Params() []*nn.Param {
	return nn.CollectParams(b.norm1, b.attn, b.norm2, b.fc1, b.fc2)
}

func (b *encoderBlock) Forward(x *mat.Dense, numTokens int) *mat.Dense {
	attnOut := b.attn.Forward(b.norm1.Forward(x), numTokens)
	h := mat.DenseCopyOf(x)
	h.Add(h, attnOut)

	ffnOut := b.fc2.Forward(b.act.Forward(b.fc1.Forward(b.norm2.Forward(h))))
	out := mat.DenseCopyOf(h)
	out.Add(out, ffnOut)
	return out
}

func (b *encoderBlock) Backward(dy *mat.Dense) *mat.Dense {
	dh := mat.DenseCopyOf(dy)
	dh.Add(dh, b.norm2.Backward(b.fc1.Backward(b.act.Backward(b.fc2.Backward(dy)))))

	dx := mat.DenseCopyOf(dh)
	dx.Add(dx, b.norm1.Backward(b.attn.Backward(dh)))
	return dx
}

func (b *encoderBlock) ClearCache() {
	b.norm1.ClearCache()
	b.attn.ClearCache()
	b.norm2.ClearCache()
	b.fc1.ClearCache()
	b.act.ClearCache()
	b.fc2.ClearCache()
}

// tokenize cuts every observation row into sub-patch tokens, flattened
// batch-major. The observation layout is [glimpse][channel][y][x] and
// each token keeps that order inside its window.
func (p *Policy) tokenize(patches *mat.Dense) *mat.Dense {
	batch, cols := patches.Dims()
	planes := cols / (p.PatchSize * p.PatchSize)
	side := p.PatchSize / p.VitPatchSize

	tokens := mat.NewDense(batch*p.numTokens, p.tokenDim, nil)
	for b := 0; b < batch; b++ {
		src := patches.RawRowView(b)
		for ty := 0; ty < side; ty++ {
			for tx := 0; tx < side; tx++ {
				dst := tokens.RawRowView(b*p.numTokens + ty*side + tx)
				i := 0
				for pl := 0; pl < planes; pl++ {
					for sy := 0; sy < p.VitPatchSize; sy++ {
						y := ty*p.VitPatchSize + sy
						row := src[(pl*p.PatchSize+y)*p.PatchSize:]
						for sx := 0; sx < p.VitPatchSize; sx++ {
							dst[i] = row[tx*p.VitPatchSize+sx]
							i++
						}
					}
				}
			}
		}
	}
	return tokens
}

// encode embeds the glimpse tokens, runs the transformer and mean
// pools the final token states into one vector per item.
func (p *Policy) encode(patches *mat.Dense) *mat.Dense {
	batch, _ := patches.Dims()

	x := p.tokenEmbed.Forward(p.tokenize(patches))
	rows, _ := x.Dims()
	for r := 0; r < rows; r++ {
		row := x.RawRowView(r)
		pos := p.posEmbed.Value.RawRowView(r % p.numTokens)
		for j := range row {
			row[j] += pos[j]
		}
	}

	for _, b := range p.blocks {
		x = b.Forward(x, p.numTokens)
	}
	x = p.finalNorm.Forward(x)

	pooled := mat.NewDense(batch, p.EmbeddingSize, nil)
	inv := 1 / float64(p.numTokens)
	for b := 0; b < batch; b++ {
		out := pooled.RawRowView(b)
		for t := 0; t < p.numTokens; t++ {
			row := x.RawRowView(b*p.numTokens + t)
			for j := range out {
				out[j] += row[j] * inv
			}
		}
	}
	return pooled
}

// encodeBackward pushes the pooled gradient back through the encoder.
// The observation itself is not learnable, so the token gradient stops
// at the embedding layer.
func (p *Policy) encodeBackward(dPooled *mat.Dense) {
	batch, _ := dPooled.Dims()

	dx := mat.NewDense(batch*p.numTokens, p.EmbeddingSize, nil)
	inv := 1 / float64(p.numTokens)
	for b := 0; b < batch; b++ {
		src := dPooled.RawRowView(b)
		for t := 0; t < p.numTokens; t++ {
			row := dx.RawRowView(b*p.numTokens + t)
			for j := range row {
				row[j] = src[j] * inv
			}
		}
	}

	dx = p.finalNorm.Backward(dx)
	for i := len(p.blocks) - 1; i >= 0; i-- {
		dx = p.blocks[i].Backward(dx)
	}

	rows, _ := dx.Dims()
	for r := 0; r < rows; r++ {
		row := dx.RawRowView(r)
		grad := p.posEmbed.Grad.RawRowView(r % p.numTokens)
		for j := range row {
			grad[j] += row[j]
		}
	}
	p.tokenEmbed.Backward(dx)
}
