package domain

import (
	"github.com/atlaskb/atlas-backend/internal/domain/graph"
)

const (
	KindBranch = graph.KindBranch
	KindLeaf   = graph.KindLeaf

	OriginPageLink  = graph.OriginPageLink
	OriginCrossLink = graph.OriginCrossLink

	LinkTypePageLink  = graph.LinkTypePageLink
	LinkTypeCrossLink = graph.LinkTypeCrossLink
	LinkTypeBoth      = graph.LinkTypeBoth

	PhaseHierarchyBuild  = graph.PhaseHierarchyBuild
	PhaseIdentityResolve = graph.PhaseIdentityResolve
	PhaseAssocMerge      = graph.PhaseAssocMerge

	NamespaceArticle  = graph.NamespaceArticle
	NamespaceFile     = graph.NamespaceFile
	NamespaceCategory = graph.NamespaceCategory

	MemberKindArticle     = graph.MemberKindArticle
	MemberKindSubcategory = graph.MemberKindSubcategory
	MemberKindFile        = graph.MemberKindFile
)

type GraphNode = graph.GraphNode
type CanonicalNode = graph.CanonicalNode
type NodeAlias = graph.NodeAlias
type DiscardedParent = graph.DiscardedParent

type StagedLink = graph.StagedLink
type AssociativeLink = graph.AssociativeLink
type MergeDiagnostic = graph.MergeDiagnostic

type BuildCheckpoint = graph.BuildCheckpoint
type CycleReport = graph.CycleReport
type BuildRun = graph.BuildRun

type SourcePage = graph.SourcePage
type SourceCategoryLink = graph.SourceCategoryLink
type SourcePageLink = graph.SourcePageLink
type SourceCrossLink = graph.SourceCrossLink
type SourceRedirect = graph.SourceRedirect
