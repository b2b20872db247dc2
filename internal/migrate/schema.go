package migrate

import (
	"database/sql"

	"fence-api/internal/logger"
)

// 背景：首次运行自动创建围栏相关表、索引、触发器与存储过程
// 约束：全部使用 IF NOT EXISTS / OR REPLACE，可幂等重放；
// 布尔代数（并集、切割、相交）全部留在库内函数中完成
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,

		`CREATE TABLE IF NOT EXISTS fence_groups (
			id SERIAL PRIMARY KEY,
			group_name VARCHAR(100) NOT NULL,
			group_description TEXT,
			group_color VARCHAR(20) NOT NULL DEFAULT '#0066CC',
			group_tags JSONB,
			parent_group_id INT REFERENCES fence_groups(id),
			created_by INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS electronic_fences (
			id SERIAL PRIMARY KEY,
			fence_name VARCHAR(100) NOT NULL,
			fence_type VARCHAR(50) NOT NULL DEFAULT 'polygon',
			fence_purpose TEXT,
			fence_description TEXT,
			fence_status VARCHAR(20) NOT NULL DEFAULT 'active',
			fence_level INT NOT NULL DEFAULT 1,
			fence_color VARCHAR(20) NOT NULL DEFAULT '#FF0000',
			fence_opacity DOUBLE PRECISION NOT NULL DEFAULT 0.3,
			fence_stroke_color VARCHAR(20) NOT NULL DEFAULT '#FF0000',
			fence_stroke_width DOUBLE PRECISION NOT NULL DEFAULT 2,
			fence_stroke_opacity DOUBLE PRECISION NOT NULL DEFAULT 0.8,
			fence_geometry geometry(Polygon, 4326) NOT NULL,
			fence_bounds geometry(Polygon, 4326),
			fence_center geometry(Point, 4326),
			fence_area DOUBLE PRECISION,
			fence_perimeter DOUBLE PRECISION,
			group_id INT REFERENCES fence_groups(id),
			owner_id INT,
			creator_id INT,
			fence_tags JSONB,
			fence_config JSONB,
			version INT NOT NULL DEFAULT 1,
			is_locked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fences_geometry ON electronic_fences USING GIST(fence_geometry)`,
		`CREATE INDEX IF NOT EXISTS idx_fences_status ON electronic_fences(fence_status)`,
		`CREATE INDEX IF NOT EXISTS idx_fences_group ON electronic_fences(group_id)`,

		// 重叠对无序存储：always (小id, 大id)
		`CREATE TABLE IF NOT EXISTS fence_overlaps (
			id SERIAL PRIMARY KEY,
			fence_id_1 INT NOT NULL REFERENCES electronic_fences(id),
			fence_id_2 INT NOT NULL REFERENCES electronic_fences(id),
			overlap_area DOUBLE PRECISION NOT NULL DEFAULT 0,
			overlap_percentage_1 DOUBLE PRECISION NOT NULL DEFAULT 0,
			overlap_percentage_2 DOUBLE PRECISION NOT NULL DEFAULT 0,
			overlap_type VARCHAR(30) NOT NULL DEFAULT 'partial',
			detected_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at TIMESTAMPTZ,
			CONSTRAINT chk_overlap_pair_order CHECK (fence_id_1 < fence_id_2)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_overlap_pair ON fence_overlaps(fence_id_1, fence_id_2)`,

		// 只追加的审计表
		`CREATE TABLE IF NOT EXISTS fence_history (
			id SERIAL PRIMARY KEY,
			fence_id INT NOT NULL,
			operation_type VARCHAR(30) NOT NULL,
			changes_summary JSONB,
			change_reason TEXT,
			old_geometry geometry(Polygon, 4326),
			new_geometry geometry(Polygon, 4326),
			operated_by INT,
			operated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fence_history_fence ON fence_history(fence_id, operated_at DESC)`,

		// 图层关联缓存表：由 analyze_fence_layer_features 回写，统计接口读取
		`CREATE TABLE IF NOT EXISTS fence_layer_associations (
			id SERIAL PRIMARY KEY,
			fence_id INT NOT NULL REFERENCES electronic_fences(id) ON DELETE CASCADE,
			layer_type VARCHAR(50) NOT NULL,
			feature_count BIGINT NOT NULL DEFAULT 0,
			analyzed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_fence_layer ON fence_layer_associations(fence_id, layer_type)`,

		`CREATE OR REPLACE VIEW v_fence_statistics AS
			SELECT
				fence_type,
				fence_status,
				COUNT(*) AS fence_count,
				COALESCE(SUM(fence_area), 0) AS total_area,
				COALESCE(AVG(fence_area), 0) AS avg_area
			FROM electronic_fences
			GROUP BY fence_type, fence_status`,

		// 派生列触发器：面积、周长、外接框、中心点由库内统一计算，
		// 几何变更时版本号 +1
		`CREATE OR REPLACE FUNCTION fence_derived_cols() RETURNS trigger AS $fn$
		BEGIN
			NEW.fence_area := ST_Area(NEW.fence_geometry::geography);
			NEW.fence_perimeter := ST_Perimeter(NEW.fence_geometry::geography);
			NEW.fence_bounds := ST_Envelope(NEW.fence_geometry);
			NEW.fence_center := ST_Centroid(NEW.fence_geometry);
			IF TG_OP = 'UPDATE' THEN
				NEW.updated_at := CURRENT_TIMESTAMP;
				IF NOT ST_Equals(NEW.fence_geometry, OLD.fence_geometry) THEN
					NEW.version := OLD.version + 1;
				END IF;
			END IF;
			RETURN NEW;
		END;
		$fn$ LANGUAGE plpgsql`,

		`DROP TRIGGER IF EXISTS trg_fence_derived_cols ON electronic_fences`,
		`CREATE TRIGGER trg_fence_derived_cols
			BEFORE INSERT OR UPDATE OF fence_geometry ON electronic_fences
			FOR EACH ROW EXECUTE FUNCTION fence_derived_cols()`,

		// 重叠检测：目标围栏对所有活跃围栏做相交分析
		`CREATE OR REPLACE FUNCTION detect_fence_overlaps(p_fence_id INT)
		RETURNS TABLE(
			overlapping_fence_id INT,
			overlap_area DOUBLE PRECISION,
			overlap_percentage DOUBLE PRECISION,
			overlap_type VARCHAR
		) AS $fn$
		BEGIN
			RETURN QUERY
			SELECT
				f.id,
				ST_Area(ST_Intersection(f.fence_geometry, t.fence_geometry)::geography),
				CASE WHEN ST_Area(t.fence_geometry::geography) > 0
					THEN ST_Area(ST_Intersection(f.fence_geometry, t.fence_geometry)::geography)
						/ ST_Area(t.fence_geometry::geography) * 100
					ELSE 0 END,
				CASE
					WHEN ST_Contains(f.fence_geometry, t.fence_geometry) THEN 'contained'::VARCHAR
					WHEN ST_Contains(t.fence_geometry, f.fence_geometry) THEN 'contains'::VARCHAR
					ELSE 'partial'::VARCHAR
				END
			FROM electronic_fences f, electronic_fences t
			WHERE t.id = p_fence_id
			  AND f.id <> p_fence_id
			  AND f.fence_status = 'active'
			  AND ST_Intersects(f.fence_geometry, t.fence_geometry)
			  AND ST_Area(ST_Intersection(f.fence_geometry, t.fence_geometry)) > 0;
		END;
		$fn$ LANGUAGE plpgsql`,

		// 合并：ST_Union 所有源围栏，新围栏落库后源围栏软删除并记审计
		`CREATE OR REPLACE FUNCTION merge_fences(p_fence_ids INT[], p_new_name TEXT, p_operator INT)
		RETURNS INT AS $fn$
		DECLARE
			v_union geometry;
			v_new_id INT;
			v_src INT;
		BEGIN
			SELECT ST_Union(fence_geometry) INTO v_union
			FROM electronic_fences
			WHERE id = ANY(p_fence_ids) AND fence_status = 'active';

			IF v_union IS NULL OR GeometryType(v_union) <> 'POLYGON' THEN
				RETURN NULL;
			END IF;

			INSERT INTO electronic_fences (fence_name, fence_geometry, creator_id)
			VALUES (p_new_name, v_union, p_operator)
			RETURNING id INTO v_new_id;

			FOREACH v_src IN ARRAY p_fence_ids LOOP
				UPDATE electronic_fences
				SET fence_status = 'deleted', deleted_at = CURRENT_TIMESTAMP
				WHERE id = v_src AND fence_status = 'active';

				INSERT INTO fence_history (fence_id, operation_type, changes_summary, operated_by)
				VALUES (v_src, 'merge',
					jsonb_build_object('merged_into', v_new_id, 'source_ids', to_jsonb(p_fence_ids)),
					p_operator);
			END LOOP;

			INSERT INTO fence_history (fence_id, operation_type, changes_summary, new_geometry, operated_by)
			VALUES (v_new_id, 'merge_create',
				jsonb_build_object('source_ids', to_jsonb(p_fence_ids)),
				v_union, p_operator);

			RETURN v_new_id;
		END;
		$fn$ LANGUAGE plpgsql`,

		// 切割：分割线必须把围栏切成至少两个多边形，
		// 成功后原围栏软删除，各部件继承属性
		`CREATE OR REPLACE FUNCTION split_fence(p_fence_id INT, p_line geometry, p_operator INT)
		RETURNS INT[] AS $fn$
		DECLARE
			v_src electronic_fences%ROWTYPE;
			v_parts geometry;
			v_part geometry;
			v_new_ids INT[] := '{}';
			v_new_id INT;
			v_i INT;
			v_n INT;
		BEGIN
			SELECT * INTO v_src FROM electronic_fences
			WHERE id = p_fence_id AND fence_status = 'active';
			IF NOT FOUND THEN
				RETURN NULL;
			END IF;

			v_parts := ST_Split(v_src.fence_geometry, p_line);
			v_n := ST_NumGeometries(v_parts);
			IF v_n < 2 THEN
				RETURN NULL;
			END IF;

			FOR v_i IN 1..v_n LOOP
				v_part := ST_GeometryN(v_parts, v_i);
				IF GeometryType(v_part) <> 'POLYGON' THEN
					CONTINUE;
				END IF;
				INSERT INTO electronic_fences (
					fence_name, fence_type, fence_purpose, fence_description,
					fence_color, fence_opacity, fence_geometry,
					group_id, owner_id, creator_id, fence_tags, fence_config
				) VALUES (
					v_src.fence_name || '_part_' || v_i, v_src.fence_type,
					v_src.fence_purpose, v_src.fence_description,
					v_src.fence_color, v_src.fence_opacity, v_part,
					v_src.group_id, v_src.owner_id, p_operator,
					v_src.fence_tags, v_src.fence_config
				) RETURNING id INTO v_new_id;
				v_new_ids := v_new_ids || v_new_id;

				INSERT INTO fence_history (fence_id, operation_type, changes_summary, new_geometry, operated_by)
				VALUES (v_new_id, 'split_create',
					jsonb_build_object('split_from', p_fence_id),
					v_part, p_operator);
			END LOOP;

			IF array_length(v_new_ids, 1) < 2 THEN
				RETURN NULL;
			END IF;

			UPDATE electronic_fences
			SET fence_status = 'deleted', deleted_at = CURRENT_TIMESTAMP
			WHERE id = p_fence_id;

			INSERT INTO fence_history (fence_id, operation_type, changes_summary, old_geometry, operated_by)
			VALUES (p_fence_id, 'split',
				jsonb_build_object('part_ids', to_jsonb(v_new_ids)),
				v_src.fence_geometry, p_operator);

			RETURN v_new_ids;
		END;
		$fn$ LANGUAGE plpgsql`,

		// 围栏内图层要素统计：按图层表名动态取数
		`CREATE OR REPLACE FUNCTION analyze_fence_layer_features(p_fence_id INT, p_layer TEXT)
		RETURNS JSONB AS $fn$
		DECLARE
			v_geom geometry;
			v_table TEXT;
			v_count BIGINT := 0;
		BEGIN
			SELECT fence_geometry INTO v_geom
			FROM electronic_fences WHERE id = p_fence_id;
			IF v_geom IS NULL THEN
				RETURN NULL;
			END IF;

			-- 图层名到底表的映射；未知图层按表名直查
			v_table := CASE p_layer
				WHEN 'buildings' THEN 'merged_osm_features'
				WHEN 'pois' THEN 'merged_osm_features'
				WHEN 'roads' THEN 'osm_roads'
				WHEN 'water' THEN 'osm_water_areas'
				WHEN 'railways' THEN 'osm_railways'
				WHEN 'landuse' THEN 'osm_landuse'
				WHEN 'land_polygons' THEN 'land_polygons'
				ELSE p_layer
			END;
			IF to_regclass(v_table) IS NULL THEN
				RETURN jsonb_build_object('layer', p_layer, 'available', false);
			END IF;

			EXECUTE format(
				'SELECT COUNT(*) FROM %I WHERE ST_Intersects(geom, $1)', v_table)
			INTO v_count USING v_geom;

			INSERT INTO fence_layer_associations (fence_id, layer_type, feature_count, analyzed_at)
			VALUES (p_fence_id, p_layer, v_count, CURRENT_TIMESTAMP)
			ON CONFLICT (fence_id, layer_type) DO UPDATE SET
				feature_count = EXCLUDED.feature_count,
				analyzed_at = EXCLUDED.analyzed_at;

			RETURN jsonb_build_object(
				'layer', p_layer,
				'available', true,
				'feature_count', v_count,
				'analyzed_at', to_jsonb(CURRENT_TIMESTAMP)
			);
		END;
		$fn$ LANGUAGE plpgsql`,
	}

	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
