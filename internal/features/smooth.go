package features

import (
	"image"
)

// gaussianKernel is a 5x5 Gaussian approximation with sigma ~1.0:
//
//	1  4  7  4  1
//	4 16 26 16  4
//	7 26 41 26  7
//	4 16 26 16  4
//	1  4  7  4  1
//
// Total kernel sum = 273, used for normalization.
var gaussianKernel = [5][5]int{
	{1, 4, 7, 4, 1},
	{4, 16, 26, 16, 4},
	{7, 26, 41, 26, 7},
	{4, 16, 26, 16, 4},
	{1, 4, 7, 4, 1},
}

const gaussianKernelSum = 273

// gaussianBlur smooths a grayscale plane before the binary tests are taken,
// which makes single-pixel comparisons robust to noise.
// Border pixels use clamped (replicated) edge values.
func gaussianBlur(src *image.Gray) *image.Gray {
	width, height := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			sum := 0
			for ky := -2; ky <= 2; ky++ {
				py := clamp(y+ky, 0, height-1)
				line := src.Pix[py*src.Stride:]
				for kx := -2; kx <= 2; kx++ {
					px := clamp(x+kx, 0, width-1)
					sum += int(line[px]) * gaussianKernel[ky+2][kx+2]
				}
			}
			row[x] = uint8((sum + gaussianKernelSum/2) / gaussianKernelSum)
		}
	}
	return dst
}

// clamp constrains an integer value to the range [min, max].
// Used for boundary handling in convolution operations.
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// rebase returns a plane whose origin is (0,0), copying only when needed.
func rebase(img *image.Gray) *image.Gray {
	if img.Rect.Min == (image.Point{}) {
		return img
	}
	b := img.Rect
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return out
}
