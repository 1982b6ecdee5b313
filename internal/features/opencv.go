//go:build gocv

package features

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// OpenCVORB wraps the OpenCV ORB implementation. It needs OpenCV 4 at build
// time and is only compiled with the gocv build tag.
type OpenCVORB struct {
	cfg ORBConfig
}

// NewOpenCVORB validates cfg with the same rules as NewORB.
func NewOpenCVORB(cfg ORBConfig) (*OpenCVORB, error) {
	if _, err := NewORB(cfg); err != nil {
		return nil, err
	}
	return &OpenCVORB{cfg: cfg}, nil
}

// Fingerprint implements Extractor.
func (o *OpenCVORB) Fingerprint() string {
	return fmt.Sprintf("opencv-orb/n=%d/fast=%d/levels=%d/scale=%g",
		o.cfg.MaxKeypoints, o.cfg.FastThreshold, o.cfg.PyramidLevels, o.cfg.ScaleFactor)
}

// Extract implements Extractor.
func (o *OpenCVORB) Extract(img *image.Gray) (*Features, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}

	mat, err := gocv.ImageGrayToMatGray(rebase(img))
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	orb := gocv.NewORBWithParams(o.cfg.MaxKeypoints, float32(o.cfg.ScaleFactor), o.cfg.PyramidLevels,
		2*patchRadius+1, 0, 2, gocv.ORBScoreTypeHarris, 2*patchRadius+1, o.cfg.FastThreshold)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := orb.DetectAndCompute(mat, mask)
	defer desc.Close()

	out := &Features{
		Keypoints:   make([]Keypoint, 0, len(kps)),
		Descriptors: make([]Descriptor, 0, len(kps)),
	}
	if len(kps) == 0 || desc.Empty() {
		return out, nil
	}

	raw := desc.ToBytes()
	if desc.Cols() != DescriptorBytes || len(raw) < len(kps)*DescriptorBytes {
		return nil, fmt.Errorf("unexpected descriptor layout %dx%d", desc.Rows(), desc.Cols())
	}

	for i, kp := range kps {
		d := make(Descriptor, DescriptorBytes)
		copy(d, raw[i*DescriptorBytes:(i+1)*DescriptorBytes])
		out.Keypoints = append(out.Keypoints, Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Angle:    kp.Angle,
			Size:     kp.Size,
			Response: kp.Response,
			Octave:   kp.Octave,
		})
		out.Descriptors = append(out.Descriptors, d)
	}
	return out, nil
}

// NewDefault returns the OpenCV-backed extractor in gocv builds.
func NewDefault(cfg ORBConfig) (Extractor, error) {
	return NewOpenCVORB(cfg)
}
