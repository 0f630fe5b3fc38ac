package clickmodel

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rice-clickmodels/internal/params"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
)

// Kind selects the parameter layout and the recursions of a model.
type Kind int

const (
	CM Kind = iota
	DCTR
	RCTR
	GCTR
	PBM
	SDCM
	DCM
	SDBN
	DBN
	UBM
	FCM
	VCM
)

var kindNames = map[Kind]string{
	CM:   "cm",
	DCTR: "dctr",
	RCTR: "rctr",
	GCTR: "gctr",
	PBM:  "pbm",
	SDCM: "sdcm",
	DCM:  "dcm",
	SDBN: "sdbn",
	DBN:  "dbn",
	UBM:  "ubm",
	FCM:  "fcm",
	VCM:  "vcm",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DefaultRule is the inference rule a kind trains with unless overridden.
func (k Kind) DefaultRule() params.Rule {
	switch k {
	case CM, DCTR, RCTR, GCTR, SDCM, SDBN:
		return params.MLE
	default:
		return params.EM
	}
}

// HasRel reports whether the kind has a relevance-grade variant. Rank and
// global click-through rates carry no per-document parameter to replace.
func (k Kind) HasRel() bool {
	return k != RCTR && k != GCTR
}

// Vertical reports whether the kind models vertical result blocks.
func (k Kind) Vertical() bool {
	return k == FCM || k == VCM
}

// Spec names one concrete model.
type Spec struct {
	Kind Kind
	Rel  bool
}

// Name returns the registry name, e.g. "dbn" or "dbn-rel".
func (s Spec) Name() string {
	if s.Rel {
		return s.Kind.String() + "-rel"
	}
	return s.Kind.String()
}

// ParseSpec resolves a model name.
func ParseSpec(name string) (Spec, error) {
	base, rel := strings.CutSuffix(strings.ToLower(strings.TrimSpace(name)), "-rel")
	for k, n := range kindNames {
		if n != base {
			continue
		}
		if rel && !k.HasRel() {
			return Spec{}, apperrors.UnknownModelError(name)
		}
		return Spec{Kind: k, Rel: rel}, nil
	}
	return Spec{}, apperrors.UnknownModelError(name)
}

// Parameter role names.
const (
	RoleAttr     = "attr"
	RoleSat      = "sat"
	RoleCont     = "cont"
	RoleGamma    = "gamma"
	RoleExam     = "exam"
	RoleExamAttr = "exam_attr"
	RoleBeta     = "beta"
	RolePhi      = "phi"
	RoleSigma    = "sigma"
	RoleCTR      = "ctr"
)

// roleSpec declares one parameter of a model.
type roleSpec struct {
	role  string
	shape params.Shape
	size  int
	keyer params.Keyer
	rules []params.Rule
	def   float64
}

// docRole is keyed by query-document pair, or by relevance grade for the
// Rel variants.
func docRole(role string, rel bool, rules ...params.Rule) roleSpec {
	if rel {
		return roleSpec{role: role, shape: params.Grade, keyer: params.ByGrade, rules: rules, def: 0.5}
	}
	return roleSpec{role: role, shape: params.QueryDoc, keyer: params.ByQueryDoc, rules: rules, def: 0.5}
}

var (
	mleOnly = []params.Rule{params.MLE}
	emOnly  = []params.Rule{params.EM}
	both    = []params.Rule{params.MLE, params.EM}
)

// roleTable lists the parameters of spec. Rank shaped containers are sized
// from maxRank.
func roleTable(spec Spec, maxRank int) []roleSpec {
	rel := spec.Rel
	switch spec.Kind {
	case CM:
		return []roleSpec{docRole(RoleAttr, rel, mleOnly...)}
	case DCTR:
		return []roleSpec{docRole(RoleCTR, rel, mleOnly...)}
	case RCTR:
		return []roleSpec{{role: RoleCTR, shape: params.Rank, size: maxRank, keyer: params.ByRank, rules: mleOnly, def: 0.5}}
	case GCTR:
		return []roleSpec{{role: RoleCTR, shape: params.Singleton, keyer: params.Global, rules: mleOnly, def: 0.5}}
	case PBM:
		return []roleSpec{
			docRole(RoleAttr, rel, emOnly...),
			{role: RoleExam, shape: params.Rank, size: maxRank, keyer: params.ByRank, rules: emOnly, def: 0.5},
		}
	case SDCM:
		return []roleSpec{
			docRole(RoleAttr, rel, mleOnly...),
			{role: RoleCont, shape: params.Rank, size: maxRank, keyer: params.ByRank, rules: mleOnly, def: 0.5},
		}
	case DCM:
		return []roleSpec{
			docRole(RoleAttr, rel, both...),
			{role: RoleCont, shape: params.Rank, size: maxRank, keyer: params.ByRank, rules: both, def: 0.5},
		}
	case SDBN:
		return []roleSpec{
			docRole(RoleAttr, rel, both...),
			docRole(RoleSat, rel, both...),
		}
	case DBN:
		return []roleSpec{
			docRole(RoleAttr, rel, emOnly...),
			docRole(RoleSat, rel, emOnly...),
			{role: RoleGamma, shape: params.Singleton, keyer: params.Global, rules: emOnly, def: 0.5},
		}
	case UBM:
		return []roleSpec{
			docRole(RoleAttr, rel, emOnly...),
			{role: RoleExam, shape: params.RankPair, size: maxRank, keyer: params.ByRankPrev, rules: emOnly, def: 0.5},
		}
	case FCM:
		return []roleSpec{
			docRole(RoleAttr, rel, emOnly...),
			{role: RoleExam, shape: params.RankPair, size: maxRank, keyer: params.ByRankPrev, rules: emOnly, def: 0.5},
			// offsets from the vertical, -(maxRank-1)..maxRank-1
			{role: RoleBeta, shape: params.Rank, size: 2*maxRank - 1, keyer: params.ByAux, rules: emOnly, def: 0.5},
			{role: RolePhi, shape: params.Rank, size: maxRank, keyer: params.ByAux, rules: emOnly, def: 0.5},
		}
	case VCM:
		return []roleSpec{
			docRole(RoleAttr, rel, emOnly...),
			{role: RoleExam, shape: params.RankPair, size: maxRank, keyer: params.ByRankPrev, rules: emOnly, def: 0.5},
			{role: RoleExamAttr, shape: params.RankPair, size: maxRank, keyer: params.ByRankPrev, rules: emOnly, def: 0.5},
			{role: RolePhi, shape: params.Rank, size: maxRank, keyer: params.ByAux, rules: emOnly, def: 0.5},
			{role: RoleSigma, shape: params.Rank, size: maxRank, keyer: params.ByAux, rules: emOnly, def: 0.5},
		}
	}
	return nil
}
