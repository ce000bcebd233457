package graph

// Read models over the raw encyclopedia extract. These relations are
// externally owned: the pipeline never migrates or mutates them.

const (
	NamespaceArticle  = 0
	NamespaceFile     = 6
	NamespaceCategory = 14
)

const (
	MemberKindArticle     = "article"
	MemberKindSubcategory = "subcategory"
	MemberKindFile        = "file"
)

// SourcePage is the node metadata relation.
type SourcePage struct {
	PageID     int64  `gorm:"column:page_id;primaryKey;autoIncrement:false" json:"page_id"`
	Label      string `gorm:"column:label" json:"label"`
	Namespace  int    `gorm:"column:namespace" json:"namespace"`
	IsRedirect bool   `gorm:"column:is_redirect" json:"is_redirect"`
	Length     int64  `gorm:"column:length" json:"length"`
}

func (SourcePage) TableName() string { return "source_page" }

// SourceCategoryLink is one membership edge: member page -> category label.
type SourceCategoryLink struct {
	MemberID      int64  `gorm:"column:member_id" json:"member_id"`
	CategoryLabel string `gorm:"column:category_label" json:"category_label"`
	MemberKind    string `gorm:"column:member_kind" json:"member_kind"`
}

func (SourceCategoryLink) TableName() string { return "source_category_link" }

// SourcePageLink is one inter-page link edge.
type SourcePageLink struct {
	FromID int64 `gorm:"column:from_id" json:"from_id"`
	ToID   int64 `gorm:"column:to_id" json:"to_id"`
}

func (SourcePageLink) TableName() string { return "source_page_link" }

// SourceCrossLink is the second associative edge source. The external
// alias-chain resolver materializes its output into this shape as well.
type SourceCrossLink struct {
	FromID int64 `gorm:"column:from_id" json:"from_id"`
	ToID   int64 `gorm:"column:to_id" json:"to_id"`
}

func (SourceCrossLink) TableName() string { return "source_cross_link" }

// SourceRedirect is one alias/redirect edge, consumed by the external
// alias-chain resolver.
type SourceRedirect struct {
	FromID          int64  `gorm:"column:from_id" json:"from_id"`
	TargetLabel     string `gorm:"column:target_label" json:"target_label"`
	TargetNamespace int    `gorm:"column:target_namespace" json:"target_namespace"`
	Fragment        string `gorm:"column:fragment" json:"fragment"`
}

func (SourceRedirect) TableName() string { return "source_redirect" }
