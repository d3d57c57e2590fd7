package domain

type (
	StageName string
	StageID   string
)

const DefaultStage StageName = "main"

type Stage struct {
	ID   StageID
	Name StageName
}
