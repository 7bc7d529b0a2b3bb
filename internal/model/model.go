package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Run{},
	&GoalResult{},
	&Feedback{},
}

// Run is one execution of the sequencer over a goal list.
type Run struct {
	gorm.Model
	RunID       string       `json:"runId" gorm:"size:64;uniqueIndex"`
	ActionName  string       `json:"actionName" gorm:"size:127"`
	FrameID     string       `json:"frameId" gorm:"size:64"`
	Policy      string       `json:"policy" gorm:"size:16"`
	GoalCount   int          `json:"goalCount"`
	StartedAt   time.Time    `json:"startedAt" gorm:"index:idx_run_started"`
	FinishedAt  sql.NullTime `json:"finishedAt"`
	Aborted     bool         `json:"aborted" gorm:"default:false"`
	AbortReason string       `json:"abortReason" gorm:"size:255"`

	Succeeded   int `json:"succeeded" gorm:"default:0"`
	Failed      int `json:"failed" gorm:"default:0"`
	Unavailable int `json:"unavailable" gorm:"default:0"`

	Goals       datatypes.JSON  `json:"goals"`       // planned goal tuples in order
	Route       geom.LineString `json:"-"`           // goal positions in order
	RouteLength float64         `json:"routeLength"` // map units

	GoalResults []GoalResult
}

func (*Run) TableName() string {
	return "runs"
}

// GoalResult records how one goal of a run ended.
type GoalResult struct {
	ID     uint   `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID  uint   `json:"runId" gorm:"index:idx_goalresult_run_id"`
	Run    Run    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Index  int    `json:"index"`                                          // 1-based position in the goal list
	GoalID string `json:"goalId" gorm:"size:64;index:idx_goalresult_goal_id"` // server-side goal id

	Target geom.Point `json:"target"` // goal position in the map frame
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	QX     float64    `json:"qx"`
	QY     float64    `json:"qy"`
	QZ     float64    `json:"qz"`
	QW     float64    `json:"qw"`
	Yaw    float64    `json:"yaw"` // degrees

	Outcome    string         `json:"outcome" gorm:"size:16;index:idx_goalresult_outcome"`
	Status     string         `json:"status" gorm:"size:16"`
	Result     datatypes.JSON `json:"result"`
	Error      string         `json:"error" gorm:"size:255"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	DurationMs int64          `json:"durationMs"`
}

func (*GoalResult) TableName() string {
	return "goal_results"
}

// Feedback is a progress sample reported while a goal was in flight.
type Feedback struct {
	ID                uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID             uint       `json:"runId" gorm:"index:idx_feedback_run_id"`
	Run               Run        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	GoalID            string     `json:"goalId" gorm:"size:64;index:idx_feedback_goal_id"`
	Time              time.Time  `json:"time" gorm:"index:idx_feedback_time"`
	Position          geom.Point `json:"position"`
	DistanceRemaining float64    `json:"distanceRemaining"`
}

func (*Feedback) TableName() string {
	return "goal_feedback"
}
