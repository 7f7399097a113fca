package matching_test

import (
	"errors"
	"testing"
	"time"

	"github.com/erichli1/acamafia/internal/domain/matching"
	"github.com/erichli1/acamafia/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	u = model.StatusUndecided
	a = model.StatusAccepted
	r = model.StatusRejected
)

func TestEvaluate(t *testing.T) {
	Convey("Given status vectors in preference order", t, func() {
		Convey("An undecided higher preference blocks a lower acceptance", func() {
			res := matching.Evaluate([]model.Status{u, a, r})
			So(res.Outcome, ShouldEqual, matching.Pending)
			So(res.Resolved(), ShouldBeFalse)
		})

		Convey("The first acceptance wins over later ones", func() {
			res := matching.Evaluate([]model.Status{r, a, a})
			So(res.Outcome, ShouldEqual, matching.Matched)
			So(res.Index, ShouldEqual, 1)
		})

		Convey("An acceptance at the top resolves even with later slots undecided", func() {
			res := matching.Evaluate([]model.Status{a, u, u})
			So(res.Outcome, ShouldEqual, matching.Matched)
			So(res.Index, ShouldEqual, 0)
		})

		Convey("Rejections are skipped until an undecided slot", func() {
			res := matching.Evaluate([]model.Status{r, r, u})
			So(res.Outcome, ShouldEqual, matching.Pending)
		})

		Convey("All rejections resolve to no match", func() {
			res := matching.Evaluate([]model.Status{r, r, r})
			So(res.Outcome, ShouldEqual, matching.NoMatch)
			So(res.Index, ShouldEqual, -1)
		})

		Convey("An empty vector resolves to no match", func() {
			So(matching.Evaluate(nil).Outcome, ShouldEqual, matching.NoMatch)
		})

		Convey("Pending is reported whenever any slot before the first acceptance is undecided", func() {
			// Exhaustive over length 3: the verdict must never be a match at k
			// while some index below k is undecided.
			values := []model.Status{u, a, r}
			for _, x := range values {
				for _, y := range values {
					for _, z := range values {
						v := []model.Status{x, y, z}
						res := matching.Evaluate(v)
						if res.Outcome == matching.Matched {
							for i := 0; i < res.Index; i++ {
								So(v[i], ShouldEqual, model.StatusRejected)
							}
							So(v[res.Index], ShouldEqual, model.StatusAccepted)
						}
					}
				}
			}
		})
	})

	Convey("Given a resolution and a ranking", t, func() {
		ranking := []string{"Veritones", "Callbacks", "Lowkeys"}

		group, err := matching.Resolution{Outcome: matching.Matched, Index: 1}.Group(ranking)
		So(err, ShouldBeNil)
		So(group, ShouldEqual, "Callbacks")

		group, err = matching.Resolution{Outcome: matching.NoMatch, Index: -1}.Group(ranking)
		So(err, ShouldBeNil)
		So(group, ShouldEqual, model.NoMatch)

		_, err = matching.Resolution{Outcome: matching.Pending, Index: -1}.Group(ranking)
		So(errors.Is(err, matching.ErrUnresolved), ShouldBeTrue)
	})
}

func TestDecide(t *testing.T) {
	Convey("Given a comper who ranked three groups", t, func() {
		c := model.NewComper("ada@college.edu", "Ada", []string{"Veritones", "Callbacks", "Lowkeys"}, nil)

		Convey("When a group that was not ranked decides", func() {
			_, err := matching.Decide(c, "Din & Tonics", true)

			Convey("Then it is not authorized and nothing changes", func() {
				So(errors.Is(err, matching.ErrNotAuthorized), ShouldBeTrue)
				So(c.Statuses, ShouldResemble, []model.Status{u, u, u})
			})
		})

		Convey("When a lower preference accepts first", func() {
			v, err := matching.Decide(c, "Callbacks", true)

			Convey("Then the comper stays pending and nothing is scheduled", func() {
				So(err, ShouldBeNil)
				So(v.Index, ShouldEqual, 1)
				So(v.Resolution.Outcome, ShouldEqual, matching.Pending)
				So(v.Schedule, ShouldBeFalse)
			})

			Convey("And the top choice rejects", func() {
				v, err := matching.Decide(c, "Veritones", false)

				Convey("Then the comper resolves to the accepting group and must be scheduled", func() {
					So(err, ShouldBeNil)
					So(v.Resolution.Outcome, ShouldEqual, matching.Matched)
					So(v.Resolution.Index, ShouldEqual, 1)
					So(v.Schedule, ShouldBeTrue)
				})
			})

			Convey("And the same group decides again", func() {
				_, err := matching.Decide(c, "Callbacks", false)

				Convey("Then it fails with already decided and the slot keeps its value", func() {
					So(errors.Is(err, matching.ErrAlreadyDecided), ShouldBeTrue)
					So(c.Statuses[1], ShouldEqual, model.StatusAccepted)
				})
			})
		})

		Convey("When the comper is already scheduled", func() {
			_, _ = matching.Decide(c, "Veritones", true)
			matching.MarkScheduled(c, "job-1", time.Now())
			v, err := matching.Decide(c, "Lowkeys", true)

			Convey("Then later decisions still record but never schedule again", func() {
				So(err, ShouldBeNil)
				So(v.Resolution.Outcome, ShouldEqual, matching.Matched)
				So(v.Resolution.Index, ShouldEqual, 0)
				So(v.Schedule, ShouldBeFalse)
				So(c.AnnouncementState(), ShouldEqual, model.Scheduled)
			})
		})
	})
}

func TestAnnounce(t *testing.T) {
	Convey("Given a resolved and scheduled comper", t, func() {
		c := model.NewComper("ben@college.edu", "Ben", []string{"Veritones", "Lowkeys"}, []string{"Callbacks"})
		_, _ = matching.Decide(c, "Veritones", false)
		v, _ := matching.Decide(c, "Lowkeys", false)
		So(v.Schedule, ShouldBeTrue)
		due := time.Now().Add(time.Minute)
		matching.MarkScheduled(c, "job-7", due)
		job, err := matching.NewAnnouncement(c, v.Resolution, "job-7", due)
		So(err, ShouldBeNil)
		So(job.Group, ShouldEqual, model.NoMatch)

		Convey("When the job is delivered", func() {
			entry, skip, err := matching.Announce(c, job)

			Convey("Then the comper is matched and one entry is produced", func() {
				So(err, ShouldBeNil)
				So(skip, ShouldEqual, matching.SkipNone)
				So(entry, ShouldNotBeNil)
				So(entry.Group, ShouldEqual, model.NoMatch)
				So(entry.RelevantGroups, ShouldResemble, []string{"Veritones", "Lowkeys"})
				So(c.Matched, ShouldBeTrue)
				So(c.MatchedGroup, ShouldEqual, model.NoMatch)
				So(c.AnnouncementState(), ShouldEqual, model.Announced)
			})

			Convey("And it is delivered again", func() {
				again, skip, err := matching.Announce(c, job)

				Convey("Then the second delivery is a no-op", func() {
					So(err, ShouldBeNil)
					So(again, ShouldBeNil)
					So(skip, ShouldEqual, matching.SkipAlreadyMatched)
					So(c.MatchedGroup, ShouldEqual, model.NoMatch)
				})
			})
		})

		Convey("When a stale job with another id arrives", func() {
			stale := job
			stale.JobID = "job-from-last-round"
			entry, skip, err := matching.Announce(c, stale)

			Convey("Then it is skipped as superseded", func() {
				So(err, ShouldBeNil)
				So(entry, ShouldBeNil)
				So(skip, ShouldEqual, matching.SkipSuperseded)
				So(c.Matched, ShouldBeFalse)
			})
		})

		Convey("When the round was reset before delivery", func() {
			c.Reset()
			entry, skip, _ := matching.Announce(c, job)

			Convey("Then it is skipped as not scheduled", func() {
				So(entry, ShouldBeNil)
				So(skip, ShouldEqual, matching.SkipNotScheduled)
			})
		})
	})
}

func TestValidateRanking(t *testing.T) {
	universe := []string{"Veritones", "Callbacks", "Lowkeys"}

	Convey("Given submitted rankings", t, func() {
		So(matching.ValidateRanking([]string{"Lowkeys"}, []string{"Callbacks"}, universe), ShouldBeNil)
		So(errors.Is(matching.ValidateRanking(nil, nil, universe), matching.ErrEmptyRanking), ShouldBeTrue)
		So(errors.Is(matching.ValidateRanking([]string{"Lowkeys", "Lowkeys"}, nil, universe), matching.ErrInvalidRanking), ShouldBeTrue)
		So(errors.Is(matching.ValidateRanking([]string{"Lowkeys"}, []string{"Lowkeys"}, universe), matching.ErrInvalidRanking), ShouldBeTrue)
		So(errors.Is(matching.ValidateRanking([]string{"Kuumba"}, nil, universe), matching.ErrInvalidRanking), ShouldBeTrue)
		So(matching.ValidateRanking([]string{"Kuumba"}, nil, nil), ShouldBeNil)
	})
}
