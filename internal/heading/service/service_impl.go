package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
	"github.com/peoplemint/payroll/pkg/db/option"
	"github.com/peoplemint/payroll/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	headingRepo repository.Repository[headingdomain.Heading]
	plugins     *plugin.Registry
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Plugins *plugin.Registry
}

func NewService(p ServiceParam) headingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("heading.service"),

		genID:       p.GenID,
		headingRepo: repository.ProvideStore[headingdomain.Heading](p.DB),
		plugins:     p.Plugins,
	}
}

func (s *Service) Create(ctx context.Context, heading *headingdomain.Heading) error {
	existing, err := s.headingRepo.FindOne(ctx, &headingdomain.Heading{
		OrgID: heading.OrgID,
		Name:  heading.Name,
	})
	if err != nil {
		return err
	}
	if existing != nil {
		return headingdomain.ErrHeadingNameTaken
	}

	if heading.ID == 0 {
		heading.ID = s.genID.Generate()
	}

	all, err := s.List(ctx, heading.OrgID)
	if err != nil {
		return err
	}
	if err := ValidateHeadings(append(all, *heading), s.plugins); err != nil {
		return err
	}

	s.log.Info("heading created",
		zap.String("heading_id", heading.ID.String()),
		zap.String("name", heading.Name))
	return s.headingRepo.Create(ctx, heading)
}

func (s *Service) Update(ctx context.Context, heading *headingdomain.Heading) error {
	existing, err := s.headingRepo.FindOne(ctx, &headingdomain.Heading{ID: heading.ID})
	if err != nil {
		return err
	}
	if existing == nil {
		return headingdomain.ErrHeadingNotFound
	}

	all, err := s.List(ctx, heading.OrgID)
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID == heading.ID {
			all[i] = *heading
		}
	}
	if err := ValidateHeadings(all, s.plugins); err != nil {
		return err
	}

	return s.headingRepo.Update(ctx, heading.ID.String(), heading)
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]headingdomain.Heading, error) {
	rows, err := s.headingRepo.Find(ctx, &headingdomain.Heading{OrgID: orgID},
		option.WithOrderBy("evaluation_order asc"))
	if err != nil {
		return nil, err
	}
	out := make([]headingdomain.Heading, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}
