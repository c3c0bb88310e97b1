package cube

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fitscube/pkg/fits"
)

// ExtractPlane pulls a single spectral channel out of an existing cube and
// writes it as its own image next to the cube, named
// "<cube>.channel-<N><ext>". The extracted image keeps the cube's full axis
// count, with the spectral axis collapsed to length 1 and its reference
// value moved to the extracted channel's world coordinate.
//
// Returns the path of the written image.
func ExtractPlane(cubePath string, channel int, opts Options) (string, error) {
	log := opts.logger()
	kind := opts.kind()

	f, err := fits.Open(cubePath)
	if err != nil {
		return "", &UnreadableHeaderError{Path: cubePath, Err: err}
	}
	defer f.Close()

	wcs, err := fits.ParseWCS(f.Header())
	if err != nil {
		return "", &UnreadableHeaderError{Path: cubePath, Err: err}
	}
	axis := wcs.AxisIndexByType(kind.CType)
	if axis < 0 {
		return "", &MissingAxisInfoError{Path: cubePath, Keyword: kind.CType}
	}
	if channel < 0 || channel >= wcs.Axes[axis].Len {
		return "", fmt.Errorf("channel %d out of range; %s has %d channels", channel, cubePath, wcs.Axes[axis].Len)
	}

	outPath := planeOutputPath(cubePath, channel)
	if _, err := os.Stat(outPath); err == nil && !opts.Overwrite {
		return "", &DestinationExistsError{Path: outPath}
	}

	raw, err := f.ReadSlice(axis, channel)
	if err != nil {
		return "", err
	}

	header := f.Header().Copy()
	plane := wcs.Axes[axis]
	plane.RefVal = wcs.Axes[axis].WorldAt(channel)
	plane.RefPix = 1
	plane.Len = 1
	fits.SetAxis(header, axis, plane)

	if err := fits.WriteImage(outPath, header, raw); err != nil {
		return "", &AllocationError{Path: outPath, Err: err}
	}
	log.Infow("extracted plane", "cube", cubePath, "channel", channel, "path", outPath)
	return outPath, nil
}

// planeOutputPath derives "<base>.channel-<N><ext>" from the cube path.
func planeOutputPath(cubePath string, channel int) string {
	ext := filepath.Ext(cubePath)
	base := strings.TrimSuffix(cubePath, ext)
	return fmt.Sprintf("%s.channel-%d%s", base, channel, ext)
}
