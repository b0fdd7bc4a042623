package export

import (
	"math"
	"strings"
)

// LineFamily is an X-ray emission line family.
type LineFamily int

const (
	LineKa LineFamily = iota
	LineKb
	LineLa
	LineLb
)

func (f LineFamily) String() string {
	return [...]string{"Ka", "Kb", "La", "Lb"}[f]
}

// ParseLineFamily identifies the line family of an ROI line code
// ("Ka", "ka1", "LB", ...) by case-insensitive substring match.
func ParseLineFamily(code string) (LineFamily, bool) {
	c := strings.ToLower(code)
	switch {
	case strings.Contains(c, "ka"):
		return LineKa, true
	case strings.Contains(c, "kb"):
		return LineKb, true
	case strings.Contains(c, "la"):
		return LineLa, true
	case strings.Contains(c, "lb"):
		return LineLb, true
	}
	return 0, false
}

// elementSymbols is indexed by atomic number.
var elementSymbols = [...]string{
	"",
	"H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd",
	"Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb",
	"Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg",
	"Tl", "Pb", "Bi", "Po", "At", "Rn", "Fr", "Ra", "Ac", "Th",
	"Pa", "U",
}

// AtomicNumber maps an element symbol (case-sensitive, "Fe") to Z.
func AtomicNumber(symbol string) (int, bool) {
	for z := 1; z < len(elementSymbols); z++ {
		if elementSymbols[z] == symbol {
			return z, true
		}
	}
	return 0, false
}

// emission holds sub-line energies in eV, ordered as the emission* indices.
// Zero marks a line that is not tabulated.
type emission [7]float64

const (
	emissionKa1 = iota
	emissionKa2
	emissionKb1
	emissionLa1
	emissionLa2
	emissionLb1
	emissionLb2
)

// subLine is one sub-line of a family with its intensity relative to the
// family's principal line.
type subLine struct {
	index  int
	weight float64
}

// familyLines lists the sub-lines averaged into each family energy. The
// principal line comes first and must be tabulated.
var familyLines = [...][]subLine{
	LineKa: {{emissionKa1, 1}, {emissionKa2, 0.5}},
	LineKb: {{emissionKb1, 1}},
	LineLa: {{emissionLa1, 1}, {emissionLa2, 0.11}},
	LineLb: {{emissionLb1, 1}, {emissionLb2, 0.2}},
}

// emissionLines is keyed by atomic number: Ka1, Ka2, Kb1, La1, La2, Lb1, Lb2.
var emissionLines = map[int]emission{
	// Na-Ca
	11: {1040.98, 1040.98, 1071.1, 0, 0, 0, 0},
	12: {1253.60, 1253.60, 1302.2, 0, 0, 0, 0},
	13: {1486.70, 1486.27, 1557.45, 0, 0, 0, 0},
	14: {1739.98, 1739.38, 1835.94, 0, 0, 0, 0},
	15: {2013.7, 2012.7, 2139.1, 0, 0, 0, 0},
	16: {2307.84, 2306.64, 2464.04, 0, 0, 0, 0},
	17: {2622.39, 2620.78, 2815.6, 0, 0, 0, 0},
	18: {2957.70, 2955.63, 3190.5, 0, 0, 0, 0},
	19: {3313.8, 3311.1, 3589.6, 0, 0, 0, 0},
	20: {3691.68, 3688.09, 4012.7, 341.3, 341.3, 344.9, 0},
	// Sc-Zn
	21: {4090.6, 4086.1, 4460.5, 395.4, 395.4, 399.6, 0},
	22: {4510.84, 4504.86, 4931.81, 452.2, 452.2, 458.4, 0},
	23: {4952.20, 4944.64, 5427.29, 511.3, 511.3, 519.2, 0},
	24: {5414.72, 5405.51, 5946.71, 572.8, 572.8, 582.8, 0},
	25: {5898.75, 5887.65, 6490.45, 637.4, 637.4, 648.8, 0},
	26: {6403.84, 6390.84, 7057.98, 705.0, 705.0, 718.5, 0},
	27: {6930.32, 6915.30, 7649.43, 776.2, 776.2, 791.4, 0},
	28: {7478.15, 7460.89, 8264.66, 851.5, 851.5, 868.8, 0},
	29: {8047.78, 8027.83, 8905.29, 929.7, 929.7, 949.8, 0},
	30: {8638.86, 8615.78, 9572.0, 1011.7, 1011.7, 1034.7, 0},
	// Ga-Kr
	31: {9251.74, 9224.82, 10264.2, 1097.92, 1097.92, 1124.8, 0},
	32: {9886.42, 9855.32, 10982.1, 1188.00, 1188.00, 1218.5, 0},
	33: {10543.72, 10507.99, 11726.2, 1282.0, 1282.0, 1317.0, 0},
	34: {11222.4, 11181.4, 12495.9, 1379.10, 1379.10, 1419.23, 0},
	35: {11924.2, 11877.6, 13291.4, 1480.43, 1480.43, 1525.90, 0},
	36: {12649, 12598, 14112, 1586.0, 1586.0, 1636.6, 0},
	// Rb-Xe
	37: {13395.3, 13335.8, 14961.3, 1694.13, 1692.56, 1752.17, 0},
	38: {14165, 14097.9, 15835.7, 1806.56, 1804.74, 1871.72, 0},
	39: {14958.4, 14882.9, 16737.8, 1922.56, 1920.47, 1995.84, 0},
	40: {15775.1, 15690.9, 17667.8, 2042.36, 2039.9, 2124.4, 2219.4},
	41: {16615.1, 16521.0, 18622.5, 2165.89, 2163.0, 2257.4, 2367.0},
	42: {17479.34, 17374.3, 19608.3, 2293.16, 2289.85, 2394.81, 2518.3},
	43: {18367.1, 18250.8, 20619, 2424, 0, 2538, 0},
	44: {19279.2, 19150.4, 21656.8, 2558.55, 2554.31, 2683.23, 2836.0},
	45: {20216.1, 20073.7, 22723.6, 2696.74, 2692.05, 2834.41, 3001.3},
	46: {21177.1, 21020.1, 23818.7, 2838.61, 2833.29, 2990.22, 3171.79},
	47: {22162.92, 21990.3, 24942.4, 2984.31, 2978.21, 3150.94, 3347.81},
	48: {23173.6, 22984.1, 26095.5, 3133.73, 3126.91, 3316.57, 3528.12},
	49: {24209.7, 24002.0, 27275.9, 3286.94, 3279.29, 3487.21, 3713.81},
	50: {25271.3, 25044.0, 28486.0, 3443.98, 3435.42, 3662.80, 3904.86},
	51: {26359.1, 26110.8, 29725.6, 3604.72, 3595.32, 3843.57, 4100.78},
	52: {27472.3, 27201.7, 30995.7, 3769.33, 3758.8, 4029.58, 4301.7},
	53: {28612.0, 28317.2, 32294.7, 3937.65, 3926.04, 4220.72, 4507.5},
	54: {29779, 29458, 33624, 4109.9, 0, 0, 0},
	// Cs-Lu
	55: {30972.8, 30625.1, 34986.9, 4286.5, 4272.2, 4619.8, 4935.9},
	56: {32193.6, 31817.1, 36378.2, 4466.26, 4450.90, 4827.53, 5156.5},
	57: {33441.8, 33034.1, 37801.0, 4650.97, 4634.23, 5042.1, 5383.5},
	58: {34719.7, 34278.9, 39257.3, 4840.2, 4823.0, 5262.2, 5613.4},
	59: {36026.3, 35550.2, 40748.2, 5033.7, 5013.5, 5488.9, 5850},
	60: {37361.0, 36847.4, 42271.3, 5230.4, 5207.7, 5721.6, 6089.4},
	61: {38724.7, 38171.2, 43826, 5432.5, 5407.8, 5961, 6339},
	62: {40118.1, 39522.4, 45413, 5636.1, 5609.0, 6205.1, 6586},
	63: {41542.2, 40901.9, 47037.9, 5845.7, 5816.6, 6456.4, 6843.2},
	64: {42996.2, 42308.9, 48697, 6057.2, 6025.0, 6713.2, 7102.8},
	65: {44481.6, 43744.1, 50382, 6272.8, 6238.0, 6978, 7366.7},
	66: {45998.4, 45207.8, 52119, 6495.2, 6457.7, 7247.7, 7635.7},
	67: {47546.7, 46699.7, 53877, 6719.8, 6679.5, 7525.3, 7911},
	68: {49127.7, 48221.1, 55681, 6948.7, 6905.0, 7810.9, 8189.0},
	69: {50741.6, 49772.6, 57517, 7179.9, 7133.1, 8101, 8468},
	70: {52388.9, 51354.0, 59370, 7415.6, 7367.3, 8401.8, 8758.8},
	71: {54069.8, 52965.0, 61283, 7655.5, 7604.9, 8709.0, 9048.9},
	// Hf-Rn
	72: {55790.2, 54611.4, 63234, 7899.0, 7844.6, 9022.7, 9347.3},
	73: {57532, 56277, 65223, 8146.1, 8087.9, 9343.1, 9651.8},
	74: {59318.24, 57981.7, 67244.3, 8397.6, 8335.2, 9672.35, 9961.5},
	75: {61140.3, 59717.9, 69310, 8652.5, 8586.2, 10010.0, 10275.2},
	76: {63000.5, 61486.7, 71413, 8911.7, 8841.0, 10355.3, 10598.5},
	77: {64895.6, 63286.7, 73560.8, 9175.1, 9099.5, 10708.3, 10920.3},
	78: {66832, 65112, 75748, 9442.3, 9361.8, 11070.7, 11250.5},
	79: {68803.7, 66989.5, 77984, 9713.3, 9628.0, 11442.3, 11584.7},
	80: {70819, 68895, 80253, 9988.8, 9897.6, 11822.6, 11924.1},
	81: {72871.5, 70831.9, 82576, 10268.5, 10172.8, 12213.3, 12271.5},
	82: {74969.4, 72804.2, 84936, 10551.5, 10449.5, 12613.7, 12622.6},
	83: {77107.9, 74814.8, 87343, 10838.8, 10730.91, 13023.5, 12979.9},
	84: {79290, 76862, 89800, 11130.8, 11015.8, 13447, 13340.4},
	85: {81520, 78950, 92300, 11426.8, 11304.8, 13876, 0},
	86: {83780, 81070, 94870, 11727.0, 11597.9, 14316, 0},
	// Fr-U
	87: {86100, 83230, 97470, 12031.3, 11895.0, 14770, 14450},
	88: {88470, 85430, 100130, 12339.7, 12196.2, 15235.8, 14841.4},
	89: {90884, 87670, 102850, 12652.0, 12500.8, 15713, 0},
	90: {93350, 89953, 105609, 12968.7, 12809.6, 16202.2, 15623.7},
	91: {95868, 92287, 108427, 13290.7, 13122.2, 16702, 16024},
	92: {98439, 94665, 111300, 13614.7, 13438.8, 17220.0, 16428.3},
}

// LineEnergy returns the emission energy in keV of line family f of
// element z: the intensity-weighted mean of the family's tabulated
// sub-lines.
func LineEnergy(z int, f LineFamily) (float64, bool) {
	lines, ok := emissionLines[z]
	if !ok || int(f) >= len(familyLines) {
		return 0, false
	}
	family := familyLines[f]
	if lines[family[0].index] == 0 {
		return 0, false
	}
	var sum, weights float64
	for _, l := range family {
		if e := lines[l.index]; e > 0 {
			sum += e * l.weight
			weights += l.weight
		}
	}
	return sum / weights / 1000, true
}

// BinHalfWidth is the half-width, in bins, of the fly-scan ROI window.
const BinHalfWidth = 10

// BinWindow is the range of 10 eV energy bins [Min, Max) summed for an ROI.
type BinWindow struct {
	Center int
	Min    int
	Max    int
}

// NewBinWindow centres a window on energy (keV). Bins are 10 eV wide, so the
// centre bin is round(energy*100).
func NewBinWindow(energy float64) BinWindow {
	center := int(math.Round(energy * 100))
	return BinWindow{Center: center, Min: center - BinHalfWidth, Max: center + BinHalfWidth}
}
